package blob

import (
	"context"

	"github.com/saiset-co/sai-player-cache/types"
)

var customBlobStoreCreators = make(map[string]types.BlobStoreCreator)

// RegisterBlobStore makes a custom fallback backend selectable by type
// name from config, alongside the built-in memory and redis backends.
func RegisterBlobStore(storeType string, creator types.BlobStoreCreator) {
	customBlobStoreCreators[storeType] = creator
}

func NewBlobStore(ctx context.Context, logger types.Logger, config *types.FallbackConfig, cacheName, schemaVersion string) (types.BlobStore, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrBlobStoreDisabled
	}

	keys := newKeyspace(config.Namespace, cacheName, config.Scope, schemaVersion)

	switch config.Type {
	case "memory":
		return NewMemoryStore(ctx, logger, config, keys)
	case "redis":
		return NewRedisStore(ctx, logger, config, keys)
	default:
		if creator, exists := customBlobStoreCreators[config.Type]; exists {
			return creator(config)
		}
		return nil, types.Errorf(types.ErrBlobStoreTypeUnknown, "type: %s", config.Type)
	}
}
