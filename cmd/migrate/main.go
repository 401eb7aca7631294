package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/ProfileSync/internal/pkg/env"
)

type dbSettings struct {
	user, password, host, port, name string
}

func settingsFromEnv() dbSettings {
	return dbSettings{
		user:     env.GetEnv("DB_USER", "profilesync"),
		password: env.GetEnv("DB_PASSWORD", "profilesync"),
		host:     env.GetEnv("DB_HOST", "db"),
		port:     env.GetEnv("DB_PORT", "3306"),
		name:     env.GetEnv("DB_NAME", "profilesync"),
	}
}

func (s dbSettings) url() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true", s.user, s.password, s.host, s.port, s.name)
}

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	db := settingsFromEnv()
	log.Printf("Connecting to database: %s@%s:%s/%s", db.user, db.host, db.port, db.name)

	m, err := migrate.New("file://"+env.GetEnv("MIGRATIONS_PATH", "migrations"), db.url())
	if err != nil {
		log.Fatalf("Failed to initialise migrations: %v", err)
	}

	runErr := run(m, os.Args[1], os.Args[2:])

	if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
		log.Printf("Failed to close migration resources: %v, %v", sourceErr, dbErr)
	}
	if runErr != nil {
		log.Fatal(runErr)
	}
}

func run(m *migrate.Migrate, command string, args []string) error {
	switch command {
	case "up":
		return report(m.Up(), "Migrations applied", "No change: database is up to date")

	case "down":
		steps := 1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			steps = n
		}
		return report(m.Steps(-steps), fmt.Sprintf("Rolled back %d migration(s)", steps), "No change: nothing to roll back")

	case "goto":
		version, err := versionArg(args)
		if err != nil {
			return err
		}
		return report(m.Migrate(uint(version)),
			fmt.Sprintf("Migrated to version %d", version),
			fmt.Sprintf("No change: database is already at version %d", version))

	case "force":
		version, err := versionArg(args)
		if err != nil {
			return err
		}
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("force version %d: %w", version, err)
		}
		log.Printf("Forced version %d, dirty flag cleared", version)
		return nil

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("No migrations applied yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read migration version: %w", err)
		}
		suffix := ""
		if dirty {
			suffix = " (dirty)"
		}
		log.Printf("Current version: %d%s", version, suffix)
		return nil

	default:
		printUsage()
		os.Exit(1)
	}
	return nil
}

func report(err error, applied, unchanged string) error {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println(unchanged)
	case err != nil:
		return fmt.Errorf("migration failed: %w", err)
	default:
		log.Println(applied)
	}
	return nil
}

func versionArg(args []string) (uint64, error) {
	if len(args) == 0 {
		return 0, errors.New("a version number is required")
	}
	version, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version: %w", err)
	}
	return version, nil
}

func printUsage() {
	fmt.Println("Usage: go run ./cmd/migrate [command]")
	fmt.Println("Commands:")
	fmt.Println("  up       - apply all pending migrations")
	fmt.Println("  down [N] - roll back the last N migrations (default 1)")
	fmt.Println("  goto N   - migrate to version N")
	fmt.Println("  force N  - set version N and clear the dirty flag")
	fmt.Println("  status   - print the current version")
}
