package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-player-cache/types"
	"github.com/saiset-co/sai-player-cache/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL DEFAULT '',
	team_group TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	display_name_lower TEXT NOT NULL DEFAULT '',
	attributes TEXT
);
CREATE INDEX IF NOT EXISTS idx_records_category ON records(category);
CREATE INDEX IF NOT EXISTS idx_records_group ON records(team_group);
CREATE INDEX IF NOT EXISTS idx_records_display_name ON records(display_name_lower);
CREATE TABLE IF NOT EXISTS cache_metadata (
	cache_name TEXT PRIMARY KEY,
	last_updated INTEGER NOT NULL,
	schema_version TEXT NOT NULL,
	record_count INTEGER NOT NULL,
	approx_size_bytes INTEGER NOT NULL,
	ttl_ms INTEGER NOT NULL
);
`

// SQLiteStore is the persistent indexed tier. One records table keyed by
// player id with three non-unique secondary indexes, plus a single-row
// metadata table per logical cache name, replaced together in one
// transaction on every refresh.
type SQLiteStore struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    types.Logger
	config    *types.PrimaryConfig
	cacheName string
	version   string
	db        *sql.DB
	opened    atomic.Bool
	openGroup singleflight.Group
	state     atomic.Value
}

func NewSQLiteStore(ctx context.Context, logger types.Logger, config *types.PrimaryConfig, cacheName, schemaVersion string) (*SQLiteStore, error) {
	if cacheName == "" {
		return nil, types.ErrCacheNameEmpty
	}
	if config == nil {
		// A nulled-out primary section degrades to an in-memory database
		// instead of a nil deref on first open.
		config = &types.PrimaryConfig{}
	}
	if schemaVersion == "" {
		schemaVersion = types.SchemaVersion
	}

	storeCtx, cancel := context.WithCancel(ctx)

	s := &SQLiteStore{
		ctx:       storeCtx,
		cancel:    cancel,
		logger:    logger,
		config:    config,
		cacheName: cacheName,
		version:   schemaVersion,
	}

	s.state.Store(StateStopped)
	return s, nil
}

// Open is idempotent; concurrent callers share a single in-flight schema
// initialization. A platform without usable persistent storage surfaces
// as ErrStorageUnavailable, never a panic or a partial handle.
func (s *SQLiteStore) Open(ctx context.Context) error {
	if s.opened.Load() {
		return nil
	}

	_, err, _ := s.openGroup.Do("open", func() (interface{}, error) {
		if s.opened.Load() {
			return nil, nil
		}

		dsn := s.buildDSN()

		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, types.WrapError(types.ErrStorageUnavailable, err.Error())
		}

		if s.config.Path == "" {
			// Shared-cache memory DB lives as long as one connection does.
			db.SetMaxOpenConns(1)
		}

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, types.WrapError(types.ErrStorageUnavailable, err.Error())
		}

		if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
			db.Close()
			return nil, types.WrapError(types.ErrStorageUnavailable, err.Error())
		}

		s.db = db
		s.opened.Store(true)

		s.logger.Info("Primary store opened",
			zap.String("path", s.config.Path),
			zap.String("cache", s.cacheName),
			zap.String("schema_version", s.version))

		return nil, nil
	})

	return err
}

func (s *SQLiteStore) buildDSN() string {
	if s.config.Path == "" {
		return "file::memory:?cache=shared&_busy_timeout=5000"
	}

	busy := s.config.BusyTimeout.Std()
	if busy <= 0 {
		busy = 5 * time.Second
	}

	return "file:" + s.config.Path +
		"?_busy_timeout=" + strconv.FormatInt(busy.Milliseconds(), 10) +
		"&_journal_mode=WAL"
}

func (s *SQLiteStore) Metadata(ctx context.Context) (*types.CacheMetadata, error) {
	if !s.opened.Load() {
		return nil, types.ErrStorageNotOpen
	}

	return s.readMetadata(ctx, s.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStore) readMetadata(ctx context.Context, q queryer) (*types.CacheMetadata, error) {
	row := q.QueryRowContext(ctx,
		`SELECT cache_name, last_updated, schema_version, record_count, approx_size_bytes, ttl_ms
		 FROM cache_metadata WHERE cache_name = ?`, s.cacheName)

	meta := &types.CacheMetadata{}
	err := row.Scan(&meta.Key, &meta.LastUpdated, &meta.SchemaVersion, &meta.RecordCount, &meta.SizeBytes, &meta.TTL)
	if err != nil {
		if types.IsError(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, types.WrapError(err, "failed to read cache metadata")
	}

	return meta, nil
}

// GetAll loads the last committed record set. Metadata is checked first so
// an absent or expired entry never costs a full table scan; the metadata
// check and the row scan share one transaction, so the returned set always
// belongs to a single committed write.
func (s *SQLiteStore) GetAll(ctx context.Context) (types.RecordSet, error) {
	if !s.opened.Load() {
		return nil, types.ErrStorageNotOpen
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		s.logger.Warn("Primary read transaction failed", zap.Error(err))
		return nil, types.WrapError(types.ErrTransactionAborted, err.Error())
	}
	defer tx.Rollback()

	meta, err := s.readMetadata(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !s.usable(meta) {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, category, team_group, display_name, attributes FROM records`)
	if err != nil {
		s.logger.Warn("Primary record scan failed", zap.Error(err))
		return nil, types.WrapError(types.ErrTransactionAborted, err.Error())
	}
	defer rows.Close()

	set := make(types.RecordSet, meta.RecordCount)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, types.WrapError(err, "failed to scan record")
		}
		set[rec.ID] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.ErrTransactionAborted, err.Error())
	}

	return set, nil
}

// GetOne is a point lookup. An absent id reads as (nil, nil), and the
// metadata freshness gate shares one transaction with the row read, so
// the returned record belongs to the generation the gate approved.
func (s *SQLiteStore) GetOne(ctx context.Context, id string) (*types.Record, error) {
	if !s.opened.Load() {
		return nil, types.ErrStorageNotOpen
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		s.logger.Warn("Primary read transaction failed", zap.Error(err))
		return nil, types.WrapError(types.ErrTransactionAborted, err.Error())
	}
	defer tx.Rollback()

	meta, err := s.readMetadata(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !s.usable(meta) {
		return nil, nil
	}

	row := tx.QueryRowContext(ctx,
		`SELECT id, category, team_group, display_name, attributes FROM records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if types.IsError(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, types.WrapError(err, "failed to read record")
	}

	return &rec, nil
}

// PutAll replaces the whole record set and its metadata in one read-write
// transaction: clear, bulk insert, metadata upsert with a fresh timestamp.
// Quota exhaustion triggers one clear-and-retry; the second failure is a
// soft false so the caller keeps working with caching disabled.
func (s *SQLiteStore) PutAll(ctx context.Context, records types.RecordSet, ttl time.Duration) bool {
	if !s.opened.Load() {
		return false
	}

	if ttl < 0 {
		ttl = types.DefaultTTL
	}

	payload, payloadSize, err := encodeRecords(records)
	if err != nil {
		s.logger.Error("Failed to encode record set", zap.Error(err))
		return false
	}

	err = s.replaceAll(ctx, payload, payloadSize, ttl)
	if err == nil {
		return true
	}

	if !types.IsError(err, types.ErrQuotaExceeded) {
		s.logger.Warn("Primary write failed", zap.Error(err))
		return false
	}

	s.logger.Warn("Primary store quota exceeded, clearing and retrying once",
		zap.Int64("payload_bytes", payloadSize),
		zap.Int64("max_bytes", s.config.MaxBytes))

	if err := s.Clear(ctx); err != nil {
		s.logger.Warn("Primary clear after quota failure failed", zap.Error(err))
		return false
	}

	if err := s.replaceAll(ctx, payload, payloadSize, ttl); err != nil {
		s.logger.Warn("Primary write failed after quota recovery, caching disabled",
			zap.Error(err))
		return false
	}

	return true
}

type encodedRecord struct {
	rec   types.Record
	attrs []byte
}

func encodeRecords(records types.RecordSet) ([]encodedRecord, int64, error) {
	payload := make([]encodedRecord, 0, len(records))
	var size int64

	for _, rec := range records {
		var attrs []byte
		if rec.Attributes != nil {
			var err error
			attrs, err = utils.Marshal(rec.Attributes)
			if err != nil {
				return nil, 0, err
			}
		}
		payload = append(payload, encodedRecord{rec: rec, attrs: attrs})
		size += int64(len(rec.ID)+len(rec.Category)+len(rec.Group)+len(rec.DisplayName)) + int64(len(attrs))
	}

	return payload, size, nil
}

func (s *SQLiteStore) replaceAll(ctx context.Context, payload []encodedRecord, payloadSize int64, ttl time.Duration) error {
	if over, stored := s.overQuota(ctx, payloadSize); over {
		return types.Errorf(types.ErrQuotaExceeded,
			"stored=%d incoming=%d max=%d", stored, payloadSize, s.config.MaxBytes)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.ErrTransactionAborted, err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return s.mapWriteError(err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (id, category, team_group, display_name, display_name_lower, attributes)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return s.mapWriteError(err)
	}
	defer stmt.Close()

	for _, enc := range payload {
		var attrs interface{}
		if enc.attrs != nil {
			attrs = string(enc.attrs)
		}
		_, err := stmt.ExecContext(ctx,
			enc.rec.ID, enc.rec.Category, enc.rec.Group, enc.rec.DisplayName,
			strings.ToLower(enc.rec.DisplayName), attrs)
		if err != nil {
			return s.mapWriteError(err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cache_metadata (cache_name, last_updated, schema_version, record_count, approx_size_bytes, ttl_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_name) DO UPDATE SET
			last_updated = excluded.last_updated,
			schema_version = excluded.schema_version,
			record_count = excluded.record_count,
			approx_size_bytes = excluded.approx_size_bytes,
			ttl_ms = excluded.ttl_ms`,
		s.cacheName, time.Now().UnixMilli(), s.version, len(payload), payloadSize, ttl.Milliseconds())
	if err != nil {
		return s.mapWriteError(err)
	}

	if err := tx.Commit(); err != nil {
		return s.mapWriteError(err)
	}

	return nil
}

// overQuota projects the post-write footprint against the configured
// budget: what is already committed plus what is about to land. After a
// quota clear the committed side drops to zero, which is what makes the
// single retry worth attempting.
func (s *SQLiteStore) overQuota(ctx context.Context, incoming int64) (bool, int64) {
	if s.config.MaxBytes <= 0 {
		return false, 0
	}

	var stored int64
	if meta, err := s.readMetadata(ctx, s.db); err == nil && meta != nil {
		stored = meta.SizeBytes
	}

	return stored+incoming > s.config.MaxBytes, stored
}

func (s *SQLiteStore) mapWriteError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if types.AsError(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrFull {
			return types.WrapError(types.ErrQuotaExceeded, err.Error())
		}
	}

	return types.WrapError(types.ErrTransactionAborted, err.Error())
}

// QueryByIndex is an index-backed equality lookup on one of the three
// secondary dimensions. Display-name equality is case-insensitive, matching
// the prefix search semantics.
func (s *SQLiteStore) QueryByIndex(ctx context.Context, field types.IndexField, value string) ([]types.Record, error) {
	if !s.opened.Load() {
		return nil, types.ErrStorageNotOpen
	}
	if !field.Valid() {
		return nil, types.Errorf(types.ErrInvalidIndexField, "field: %s", field)
	}

	meta, err := s.readMetadata(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if !s.usable(meta) {
		return nil, nil
	}

	var where string
	switch field {
	case types.IndexCategory:
		where = "category = ?"
	case types.IndexGroup:
		where = "team_group = ?"
	case types.IndexDisplayName:
		where = "display_name_lower = ?"
		value = strings.ToLower(value)
	}

	return s.queryRecords(ctx,
		`SELECT id, category, team_group, display_name, attributes FROM records WHERE `+where, value)
}

// SearchPrefix walks the ordered display-name index from the lowercased
// query to the first key past the prefix range. It visits only the matching
// slice of the index, never the whole table.
func (s *SQLiteStore) SearchPrefix(ctx context.Context, field types.IndexField, query string) ([]types.Record, error) {
	if !s.opened.Load() {
		return nil, types.ErrStorageNotOpen
	}
	if field != types.IndexDisplayName {
		return nil, types.Errorf(types.ErrInvalidIndexField, "prefix search only supports %s", types.IndexDisplayName)
	}
	if query == "" {
		return nil, nil
	}

	meta, err := s.readMetadata(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if !s.usable(meta) {
		return nil, nil
	}

	lower := strings.ToLower(query)

	// Close the range at the prefix's key successor so every byte-wise
	// continuation of the prefix stays inside it, supplementary-plane
	// characters included.
	upper, bounded := prefixSuccessor(lower)
	if !bounded {
		return s.queryRecords(ctx,
			`SELECT id, category, team_group, display_name, attributes FROM records
			 WHERE display_name_lower >= ?
			 ORDER BY display_name_lower`, lower)
	}

	return s.queryRecords(ctx,
		`SELECT id, category, team_group, display_name, attributes FROM records
		 WHERE display_name_lower >= ? AND display_name_lower < ?
		 ORDER BY display_name_lower`, lower, upper)
}

// prefixSuccessor is the smallest key greater than every key starting
// with prefix: the last non-0xFF byte incremented, anything after it
// dropped. An all-0xFF prefix has no successor and the scan stays
// open-ended.
func prefixSuccessor(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xFF {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]types.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Warn("Primary index query failed", zap.Error(err))
		return nil, types.WrapError(types.ErrTransactionAborted, err.Error())
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, types.WrapError(err, "failed to scan record")
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

// Clear empties records and metadata in one transaction, keeping schema.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if !s.opened.Load() {
		return types.ErrStorageNotOpen
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.ErrTransactionAborted, err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return types.WrapError(types.ErrTransactionAborted, err.Error())
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_metadata WHERE cache_name = ?`, s.cacheName); err != nil {
		return types.WrapError(types.ErrTransactionAborted, err.Error())
	}

	return tx.Commit()
}

// usable gates every read path: present, unexpired and schema-compatible.
func (s *SQLiteStore) usable(meta *types.CacheMetadata) bool {
	if types.IsExpired(meta, time.Now()) {
		return false
	}
	if meta.SchemaVersion != s.version {
		s.logger.Debug("Primary entry schema version mismatch",
			zap.String("have", meta.SchemaVersion),
			zap.String("want", s.version))
		return false
	}
	return true
}

// HealthChecker reports whether the underlying database answers a ping.
func (s *SQLiteStore) HealthChecker() types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		start := time.Now()
		check := types.HealthCheck{
			Name:      "primary_store",
			Status:    types.StatusHealthy,
			LastCheck: start,
		}

		if !s.opened.Load() {
			check.Status = types.StatusUnknown
			check.Message = "store not open"
			return check
		}

		if err := s.db.PingContext(ctx); err != nil {
			check.Status = types.StatusUnhealthy
			check.Message = err.Error()
		}

		check.Duration = time.Since(start)
		return check
	}
}

func (s *SQLiteStore) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrManagerAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	return s.Open(s.ctx)
}

func (s *SQLiteStore) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrManagerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
	}()

	s.cancel()

	if s.db != nil {
		s.opened.Store(false)
		if err := s.db.Close(); err != nil {
			return types.WrapError(err, "failed to close primary store")
		}
	}

	s.logger.Info("Primary store stopped gracefully")
	return nil
}

func (s *SQLiteStore) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *SQLiteStore) getState() State {
	return s.state.Load().(State)
}

func (s *SQLiteStore) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *SQLiteStore) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (types.Record, error) {
	var rec types.Record
	var attrs sql.NullString

	err := row.Scan(&rec.ID, &rec.Category, &rec.Group, &rec.DisplayName, &attrs)
	if err != nil {
		return rec, err
	}

	if attrs.Valid && attrs.String != "" {
		if err := utils.Unmarshal([]byte(attrs.String), &rec.Attributes); err != nil {
			// Collapse a corrupt attribute blob to an attribute-less
			// record rather than failing the whole read.
			rec.Attributes = nil
		}
	}

	return rec, nil
}
