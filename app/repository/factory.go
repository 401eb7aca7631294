package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory. A nil db yields in-memory
// repositories.
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		if f.db == nil {
			f.repos = NewMemoryRepositories()
			return
		}
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetSubscriptionRepository returns the subscription record repository instance
func (f *Factory) GetSubscriptionRepository() SubscriptionRepository {
	return f.GetRepositories().Subscription
}

// GetProfileCacheRepository returns the profile cache repository instance
func (f *Factory) GetProfileCacheRepository() ProfileCacheRepository {
	return f.GetRepositories().ProfileCache
}

// GetRefreshJobRepository returns the refresh job repository instance
func (f *Factory) GetRefreshJobRepository() RefreshJobRepository {
	return f.GetRepositories().RefreshJob
}

// GetRefreshEventRepository returns the refresh event repository instance
func (f *Factory) GetRefreshEventRepository() RefreshEventRepository {
	return f.GetRepositories().RefreshEvent
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
