package migration

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-player-cache/types"
)

// Coordinator moves a cached record set from the fallback tier into the
// primary tier once the primary becomes available. The transfer is
// write-then-clear: the fallback copy is only removed after the primary
// write committed, so a crash mid-migration leaves the source intact and
// a rerun simply retries. Running it with nothing to migrate is a no-op.
type Coordinator struct {
	logger   types.Logger
	primary  types.RecordStore
	fallback types.BlobStore
	version  string
}

func NewCoordinator(logger types.Logger, primary types.RecordStore, fallback types.BlobStore, schemaVersion string) *Coordinator {
	if schemaVersion == "" {
		schemaVersion = types.SchemaVersion
	}

	return &Coordinator{
		logger:   logger,
		primary:  primary,
		fallback: fallback,
		version:  schemaVersion,
	}
}

// NeedsMigration is true iff the fallback holds a live entry and the
// primary does not. Checking the primary side first by metadata keeps a
// stale fallback copy from ever overwriting fresher primary data.
func (c *Coordinator) NeedsMigration(ctx context.Context) bool {
	if c.fallback == nil {
		return false
	}

	meta, err := c.primary.Metadata(ctx)
	if err == nil && meta != nil && !types.IsExpired(meta, time.Now()) && meta.SchemaVersion == c.version {
		return false
	}

	_, _, ok := c.fallback.Get(ctx)
	return ok
}

// Migrate transfers the fallback record set into the primary store,
// preserving the original expiry deadline, and clears the fallback copy
// after the write committed. Returns whether a transfer happened.
func (c *Coordinator) Migrate(ctx context.Context) (bool, error) {
	if c.fallback == nil {
		return false, nil
	}

	set, env, ok := c.fallback.Get(ctx)
	if !ok {
		return false, nil
	}

	remaining := time.Until(time.UnixMilli(env.Timestamp + env.TTL))
	if remaining <= 0 {
		return false, nil
	}

	if !c.primary.PutAll(ctx, set, remaining) {
		return false, types.WrapError(types.ErrTransactionAborted, "migration write did not commit")
	}

	validateErr := c.Validate(ctx, len(set))

	if err := c.fallback.Clear(ctx); err != nil {
		// The primary copy is committed; a rerun will see no migration
		// needed, so a failed source cleanup is only worth a warning.
		c.logger.Warn("Failed to clear fallback store after migration", zap.Error(err))
	}

	c.logger.Info("Migration completed",
		zap.Int("records", len(set)),
		zap.Duration("remaining_ttl", remaining))

	return true, validateErr
}

// Validate compares the primary's committed count against the source
// count. A mismatch is reported but never rolls the migration back:
// partial data beats none.
func (c *Coordinator) Validate(ctx context.Context, sourceCount int) error {
	meta, err := c.primary.Metadata(ctx)
	if err != nil || meta == nil {
		c.logger.Warn("Migration validation could not read primary metadata", zap.Error(err))
		return types.WrapError(types.ErrMigrationCountMismatch, "primary metadata unavailable")
	}

	if meta.RecordCount != sourceCount {
		c.logger.Warn("Migration count mismatch",
			zap.Int("source_count", sourceCount),
			zap.Int("primary_count", meta.RecordCount))
		return types.Errorf(types.ErrMigrationCountMismatch,
			"source=%d primary=%d", sourceCount, meta.RecordCount)
	}

	return nil
}

// Rollback copies the primary's current set back into the fallback tier.
// Operator-invoked escape hatch, never run automatically.
func (c *Coordinator) Rollback(ctx context.Context) error {
	if c.fallback == nil {
		return types.ErrBlobStoreDisabled
	}

	set, err := c.primary.GetAll(ctx)
	if err != nil {
		return types.WrapError(err, "rollback read failed")
	}
	if set == nil {
		return types.ErrMigrationSourceEmpty
	}

	meta, err := c.primary.Metadata(ctx)
	if err != nil || meta == nil {
		return types.WrapError(err, "rollback metadata read failed")
	}

	remaining := time.Until(time.UnixMilli(meta.LastUpdated + meta.TTL))
	if remaining <= 0 {
		return types.ErrMigrationSourceEmpty
	}

	if !c.fallback.Set(ctx, set, remaining) {
		return types.WrapError(types.ErrTransactionAborted, "rollback write did not commit")
	}

	c.logger.Info("Rollback completed", zap.Int("records", len(set)))
	return nil
}
