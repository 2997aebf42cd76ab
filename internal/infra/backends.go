// README: Opens the configured shared store backend and the clients it shares with other components.
package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"aeras/internal/config"
	"aeras/internal/modules/location"
	"aeras/internal/store"
)

// Backends holds the shared store and the optional clients opened for it.
type Backends struct {
	Store    store.Store
	Samples  location.SampleStore
	Redis    *redis.Client
	Firebase *Firebase
}

func (b *Backends) Close() {
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
}

// OpenBackends connects the store selected by cfg. Position samples live in
// Redis whenever a Redis client is open, otherwise in the shared store.
func OpenBackends(ctx context.Context, cfg config.Config) (*Backends, error) {
	b := &Backends{}
	needFirebase := cfg.Store.Backend == config.StoreFirebase || cfg.Firebase.FCMTopic != ""
	if needFirebase {
		fb, err := NewFirebase(ctx, cfg.Firebase.DatabaseURL, cfg.Firebase.CredentialsFile)
		if err != nil {
			return nil, err
		}
		b.Firebase = fb
	}

	switch cfg.Store.Backend {
	case config.StoreMemory:
		b.Store = store.NewMemory()
	case config.StoreRedis:
		client, err := NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, err
		}
		b.Redis = client
		b.Store = store.NewRedis(client, cfg.Redis.Prefix)
	case config.StoreFirebase:
		if b.Firebase == nil || b.Firebase.Database == nil {
			return nil, fmt.Errorf("firebase database client not configured")
		}
		b.Store = store.NewFirebase(b.Firebase.Database)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if b.Redis != nil {
		b.Samples = location.NewRedisSampleStore(b.Redis)
	} else {
		b.Samples = location.NewSharedSampleStore(b.Store)
	}
	return b, nil
}
