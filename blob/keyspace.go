package blob

import (
	"github.com/saiset-co/sai-player-cache/types"
)

// keyspace builds the fallback tier's key layout:
// {namespace}_{cacheName}_{scope}_{schemaVersion}. Bumping the schema
// version changes the entry key, so old entries are never read again and
// need no eager deletion; Clear and SweepExpired still remove them when
// they run.
type keyspace struct {
	namespace string
	cacheName string
	scope     string
	version   string
}

func newKeyspace(namespace, cacheName, scope, version string) keyspace {
	if namespace == "" {
		namespace = "playercache"
	}
	if cacheName == "" {
		cacheName = types.DefaultCacheName
	}
	if scope == "" {
		scope = "global"
	}
	if version == "" {
		version = types.SchemaVersion
	}

	return keyspace{
		namespace: namespace,
		cacheName: cacheName,
		scope:     scope,
		version:   version,
	}
}

// Entry is the key of the current-version envelope.
func (k keyspace) Entry() string {
	return k.namespace + "_" + k.cacheName + "_" + k.scope + "_" + k.version
}

// CachePrefix covers every version and scope of this cache's entries.
func (k keyspace) CachePrefix() string {
	return k.namespace + "_" + k.cacheName + "_"
}

// Probe is a throwaway key for availability checks, kept outside the
// cache prefix so sweeping never races with a probe.
func (k keyspace) Probe() string {
	return k.namespace + "__probe"
}
