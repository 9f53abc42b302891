package blob

import (
	"errors"
	"time"

	"github.com/saiset-co/sai-player-cache/types"
	"github.com/saiset-co/sai-player-cache/utils"
)

var errEnvelopeExpired = errors.New("envelope expired")

func encodeEnvelope(records types.RecordSet, ttl time.Duration, version string) ([]byte, error) {
	data, err := utils.Marshal(records)
	if err != nil {
		return nil, err
	}

	env := &types.CacheEnvelope{
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
		Version:   version,
	}

	return utils.Marshal(env)
}

// decodeEnvelope validates a stored envelope end to end: parse, schema
// version, expiry, then payload. Any failure means the entry must be
// treated as a miss and removed by the caller.
func decodeEnvelope(raw []byte, wantVersion string, now time.Time) (*types.CacheEnvelope, types.RecordSet, error) {
	env := &types.CacheEnvelope{}
	if err := utils.Unmarshal(raw, env); err != nil {
		return nil, nil, types.WrapError(types.ErrCorruptEntry, err.Error())
	}

	if env.Version != wantVersion {
		return nil, nil, types.Errorf(types.ErrCorruptEntry,
			"schema version mismatch: have %s want %s", env.Version, wantVersion)
	}

	if env.Expired(now) {
		return nil, nil, errEnvelopeExpired
	}

	var set types.RecordSet
	if err := utils.Unmarshal(env.Data, &set); err != nil {
		return nil, nil, types.WrapError(types.ErrCorruptEntry, err.Error())
	}

	return env, set, nil
}
