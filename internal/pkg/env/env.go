package env

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var Env map[string]string

const (
	AppEnvDev     = "dev"
	AppEnvStaging = "staging"
	AppEnvProd    = "prod"
)

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvInt reads an integer setting; unparsable values fall back to def.
func GetEnvInt(key string, def int) int {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: %s=%q is not an integer, using %d", key, raw, def)
		return def
	}
	return v
}

func SetupEnvFile() {
	// Look for .env file in project root
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/profilesync to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			return
		}
	}

	// Containers inject configuration through the process environment.
	Env = map[string]string{}
	log.Printf("No .env file found, using process environment only")
}

// AppEnv returns the normalized deployment environment name. Unknown or empty
// values are treated as production.
func AppEnv() string {
	switch strings.ToLower(strings.TrimSpace(GetEnv("APP_ENV", AppEnvProd))) {
	case "dev", "development", "local":
		return AppEnvDev
	case "staging", "stage", "test":
		return AppEnvStaging
	default:
		return AppEnvProd
	}
}

func IsDev() bool {
	return AppEnv() == AppEnvDev
}

func IsProd() bool {
	return AppEnv() == AppEnvProd
}
