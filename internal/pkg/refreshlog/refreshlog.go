// Package refreshlog writes the append-only audit trail of refreshes and
// lifecycle actions.
package refreshlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/app/repository"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Entry describes one audited action.
type Entry struct {
	AccountID uint
	ProfileID string
	Source    string
	ActorType string
	ActorID   string
	Context   map[string]interface{}
}

// Log records refresh events.
type Log struct {
	repo repository.RefreshEventRepository
}

func New(repo repository.RefreshEventRepository) *Log {
	return &Log{repo: repo}
}

// Record appends e. Unknown sources are stored as api, a missing actor type
// as system.
func (l *Log) Record(ctx context.Context, e Entry) (*models.RefreshEvent, error) {
	if e.AccountID == 0 || strings.TrimSpace(e.ProfileID) == "" {
		return nil, nil
	}
	actorType := strings.TrimSpace(e.ActorType)
	if actorType == "" {
		actorType = models.ActorTypeSystem
	}
	event := &models.RefreshEvent{
		AccountID: e.AccountID,
		ProfileID: e.ProfileID,
		Source:    models.NormalizeRefreshSource(e.Source),
		ActorType: actorType,
		ActorID:   e.ActorID,
	}
	if len(e.Context) > 0 {
		b, err := json.Marshal(e.Context)
		if err != nil {
			return nil, fmt.Errorf("encode event context: %w", err)
		}
		event.Context = datatypes.JSON(b)
	}
	if err := l.repo.Create(ctx, event); err != nil {
		log.Errorf("[RefreshLog] Failed to record event for account %d profile %s: %v", e.AccountID, e.ProfileID, err)
		return nil, fmt.Errorf("record refresh event: %w", err)
	}
	return event, nil
}

// List returns the newest events for a profile first.
func (l *Log) List(ctx context.Context, accountID uint, profileID string, limit int) ([]models.RefreshEvent, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return l.repo.ListByProfile(ctx, accountID, profileID, limit)
}
