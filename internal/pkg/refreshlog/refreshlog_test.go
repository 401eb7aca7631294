package refreshlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/app/repository"
)

func TestRecordDefaults(t *testing.T) {
	l := New(repository.NewMemoryRefreshEventRepository())

	ev, err := l.Record(context.Background(), Entry{
		AccountID: 7,
		ProfileID: "P-1",
		Source:    "cron",
		Context:   map[string]interface{}{"action": "cancel", "status": "cancelled"},
	})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, models.RefreshSourceAPI, ev.Source)
	assert.Equal(t, models.ActorTypeSystem, ev.ActorType)

	var ctx map[string]string
	require.NoError(t, json.Unmarshal(ev.Context, &ctx))
	assert.Equal(t, "cancelled", ctx["status"])
}

func TestRecordSkipsInvalidKeys(t *testing.T) {
	l := New(repository.NewMemoryRefreshEventRepository())
	ev, err := l.Record(context.Background(), Entry{AccountID: 7})
	assert.NoError(t, err)
	assert.Nil(t, ev)
}

func TestListNewestFirst(t *testing.T) {
	l := New(repository.NewMemoryRefreshEventRepository())
	ctx := context.Background()
	for _, src := range []string{models.RefreshSourceAdminManual, models.RefreshSourceBackground, models.RefreshSourceAPI} {
		_, err := l.Record(ctx, Entry{AccountID: 7, ProfileID: "P-1", Source: src})
		require.NoError(t, err)
	}
	_, err := l.Record(ctx, Entry{AccountID: 7, ProfileID: "P-2", Source: models.RefreshSourceAPI})
	require.NoError(t, err)

	events, err := l.List(ctx, 7, "P-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.RefreshSourceAPI, events[0].Source)
	assert.Equal(t, models.RefreshSourceBackground, events[1].Source)

	events, err = l.List(ctx, 7, "P-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
