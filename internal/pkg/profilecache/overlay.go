package profilecache

import (
	"context"
	"sync"

	"github.com/ManuelReschke/ProfileSync/app/models"
)

type overlayKey struct {
	accountID uint
	profileID string
}

// Overlay is a request-lifetime view over the durable store. It remembers hits
// and misses so repeated lookups inside one logical operation never query the
// database twice. Create one per request and drop it afterwards.
type Overlay struct {
	mu      sync.Mutex
	entries map[overlayKey]*models.ProfileCacheEntry
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{entries: make(map[overlayKey]*models.ProfileCacheEntry)}
}

// get returns (entry, known). A known nil entry is a remembered miss.
func (o *Overlay) get(accountID uint, profileID string) (*models.ProfileCacheEntry, bool) {
	if o == nil {
		return nil, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[overlayKey{accountID, profileID}]
	if !ok || e == nil {
		return nil, ok
	}
	cp := *e
	return &cp, true
}

func (o *Overlay) put(accountID uint, profileID string, e *models.ProfileCacheEntry) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if e == nil {
		o.entries[overlayKey{accountID, profileID}] = nil
		return
	}
	cp := *e
	o.entries[overlayKey{accountID, profileID}] = &cp
}

func (o *Overlay) forget(accountID uint, profileID string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, overlayKey{accountID, profileID})
}

// Len returns the number of remembered keys, hits and misses alike.
func (o *Overlay) Len() int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

type ctxKey struct{}

// WithOverlay attaches o to ctx.
func WithOverlay(ctx context.Context, o *Overlay) context.Context {
	return context.WithValue(ctx, ctxKey{}, o)
}

// OverlayFrom returns the overlay attached to ctx, or nil.
func OverlayFrom(ctx context.Context) *Overlay {
	o, _ := ctx.Value(ctxKey{}).(*Overlay)
	return o
}
