package source

import (
	"context"
	"strconv"
	"time"

	"github.com/hazyhaar/visionbridge/kv"
	"github.com/hazyhaar/visionbridge/rule"
)

// Cache record keys. The timestamp is milliseconds since the epoch.
const (
	CacheKey   = "visionbridge.configs"
	CacheTSKey = "visionbridge.configs.ts"
)

// readCache returns the cached list. With ignoreTTL false the record must
// be younger than the TTL; the exhaustion fallback passes true. Storage
// errors are logged and read as a miss.
func (s *Source) readCache(ctx context.Context, ignoreTTL bool) ([]rule.Configuration, bool) {
	log := s.cfg.Logger

	v := s.cfg.Cache.Get(ctx, CacheKey)
	switch v.Outcome {
	case kv.Unavailable:
		log.WarnContext(ctx, "source: cache read failed", "key", CacheKey, "error", v.Err)
		return nil, false
	case kv.Missing:
		return nil, false
	}

	if !ignoreTTL {
		written, ok := s.cacheTime(ctx)
		if !ok || s.cfg.Now().Sub(written) >= s.cfg.TTL {
			return nil, false
		}
	}

	configs, err := rule.Decode([]byte(v.Data))
	if err != nil {
		log.WarnContext(ctx, "source: cache record unreadable", "error", err)
		return nil, false
	}
	return configs, true
}

func (s *Source) cacheTime(ctx context.Context) (time.Time, bool) {
	v := s.cfg.Cache.Get(ctx, CacheTSKey)
	if v.Outcome == kv.Unavailable {
		s.cfg.Logger.WarnContext(ctx, "source: cache read failed", "key", CacheTSKey, "error", v.Err)
	}
	if v.Outcome != kv.Found {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v.Data, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (s *Source) writeCache(ctx context.Context, configs []rule.Configuration) {
	data, err := rule.Encode(configs)
	if err != nil {
		s.cfg.Logger.WarnContext(ctx, "source: cache encode failed", "error", err)
		return
	}
	if err := s.cfg.Cache.Set(ctx, CacheKey, string(data)); err != nil {
		s.cfg.Logger.WarnContext(ctx, "source: cache write failed", "key", CacheKey, "error", err)
		return
	}
	ts := strconv.FormatInt(s.cfg.Now().UnixMilli(), 10)
	if err := s.cfg.Cache.Set(ctx, CacheTSKey, ts); err != nil {
		s.cfg.Logger.WarnContext(ctx, "source: cache write failed", "key", CacheTSKey, "error", err)
	}
}
