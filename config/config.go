// Package config parses and validates the immutable tuning parameters for
// the caching engine from a JSON document, per spec.md §4.1.
package config

import (
	"strconv"

	"github.com/buger/jsonparser"
	"github.com/cockroachdb/errors"
)

// BadInputError is returned when the configuration document itself cannot
// be parsed: malformed JSON, or a field whose type doesn't match what's
// expected (e.g. a string where a number was required).
type BadInputError struct {
	Field string
	Cause error
}

func (e *BadInputError) Error() string {
	if e.Field == "" {
		return errors.Wrap(e.Cause, "bad input").Error()
	}
	return errors.Wrapf(e.Cause, "bad input for field %q", e.Field).Error()
}

func (e *BadInputError) Unwrap() error { return e.Cause }

// InvalidConfigError is returned when the document parses cleanly but
// violates a validation rule from spec.md §4.1.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return errors.Newf("invalid config: %s: %s", e.Field, e.Reason).Error()
}

// Config is the immutable set of tuning parameters for the cache engine.
// Construct one with Parse or Default. Its fields are exported, and nothing
// prevents a caller from changing them after construction.
type Config struct {
	CacheEnabled bool

	PatternResultCacheEnabled              bool
	PatternResultCacheTargetCapacityBytes  uint64
	PatternResultCacheStringThresholdBytes uint64
	PatternResultCacheTTLMs                int64

	PatternCacheTargetCapacityBytes uint64
	PatternCacheTTLMs               int64
	PatternCacheLRUBatchSize        uint64

	DeferredCacheTTLMs int64

	AutoStartEvictionThread bool
	EvictionCheckIntervalMs int64
}

// defaults mirrors the defaults applied before validation, per spec.md
// §4.1 ("All fields have defaults; the parser applies defaults before
// validation").
func defaults() Config {
	return Config{
		CacheEnabled: true,

		PatternResultCacheEnabled:              true,
		PatternResultCacheTargetCapacityBytes:  8 << 20, // 8 MiB
		PatternResultCacheStringThresholdBytes: 4096,
		PatternResultCacheTTLMs:                10 * 60 * 1000, // 10 minutes

		PatternCacheTargetCapacityBytes: 64 << 20, // 64 MiB
		PatternCacheTTLMs:               30 * 60 * 1000,
		PatternCacheLRUBatchSize:        100,

		DeferredCacheTTLMs: 60 * 60 * 1000, // 1 hour, strictly > PatternCacheTTLMs default

		AutoStartEvictionThread: true,
		EvictionCheckIntervalMs: 5000,
	}
}

// Parse parses a JSON configuration document into a Config, applying
// defaults before validation, per spec.md §4.1. Unknown fields are
// ignored. Malformed JSON fails with a *BadInputError; semantic
// validation failures fail with *InvalidConfigError.
func Parse(doc []byte) (*Config, error) {
	cfg := defaults()

	// jsonparser.Get scans for a single key path and can't tell "key
	// absent from well-formed JSON" apart from "document too malformed to
	// contain any key at all" -- both come back as NotExist. ObjectEach
	// actually walks the document's structure, so a syntax error surfaces
	// here instead of silently falling through every field to its default.
	if err := jsonparser.ObjectEach(doc, func(key, value []byte, dataType jsonparser.ValueType, offset int) error {
		return nil
	}); err != nil {
		return nil, &BadInputError{Cause: err}
	}

	if err := getBool(doc, "cache_enabled", &cfg.CacheEnabled); err != nil {
		return nil, err
	}

	if err := getBool(doc, "pattern_result_cache_enabled", &cfg.PatternResultCacheEnabled); err != nil {
		return nil, err
	}
	if err := getUint(doc, "pattern_result_cache_target_capacity_bytes", &cfg.PatternResultCacheTargetCapacityBytes); err != nil {
		return nil, err
	}
	if err := getUint(doc, "pattern_result_cache_string_threshold_bytes", &cfg.PatternResultCacheStringThresholdBytes); err != nil {
		return nil, err
	}
	if err := getInt(doc, "pattern_result_cache_ttl_ms", &cfg.PatternResultCacheTTLMs); err != nil {
		return nil, err
	}

	if err := getUint(doc, "pattern_cache_target_capacity_bytes", &cfg.PatternCacheTargetCapacityBytes); err != nil {
		return nil, err
	}
	if err := getInt(doc, "pattern_cache_ttl_ms", &cfg.PatternCacheTTLMs); err != nil {
		return nil, err
	}
	if err := getUint(doc, "pattern_cache_lru_batch_size", &cfg.PatternCacheLRUBatchSize); err != nil {
		return nil, err
	}

	if err := getInt(doc, "deferred_cache_ttl_ms", &cfg.DeferredCacheTTLMs); err != nil {
		return nil, err
	}

	if err := getBool(doc, "auto_start_eviction_thread", &cfg.AutoStartEvictionThread); err != nil {
		return nil, err
	}
	if err := getInt(doc, "eviction_check_interval_ms", &cfg.EvictionCheckIntervalMs); err != nil {
		return nil, err
	}

	if cfg.CacheEnabled {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func getBool(doc []byte, key string, dst *bool) error {
	v, dt, _, err := jsonparser.Get(doc, key)
	if dt == jsonparser.NotExist {
		return nil
	}
	if err != nil {
		return &BadInputError{Field: key, Cause: err}
	}
	b, err := jsonparser.ParseBoolean(v)
	if err != nil {
		return &BadInputError{Field: key, Cause: err}
	}
	*dst = b
	return nil
}

func getInt(doc []byte, key string, dst *int64) error {
	v, dt, _, err := jsonparser.Get(doc, key)
	if dt == jsonparser.NotExist {
		return nil
	}
	if err != nil {
		return &BadInputError{Field: key, Cause: err}
	}
	n, err := jsonparser.ParseInt(v)
	if err != nil {
		return &BadInputError{Field: key, Cause: err}
	}
	*dst = n
	return nil
}

func getUint(doc []byte, key string, dst *uint64) error {
	var n int64
	if err := getInt(doc, key, &n); err != nil {
		return err
	}
	if n < 0 {
		return &InvalidConfigError{Field: key, Reason: "must be non-negative"}
	}
	*dst = uint64(n)
	return nil
}

// validate implements spec.md §4.1's validation rules. Only invoked when
// CacheEnabled is true.
func (c *Config) validate() error {
	positive := func(field string, v int64) error {
		if v <= 0 {
			return &InvalidConfigError{Field: field, Reason: "must be strictly positive"}
		}
		return nil
	}
	positiveU := func(field string, v uint64) error {
		if v == 0 {
			return &InvalidConfigError{Field: field, Reason: "must be strictly positive"}
		}
		return nil
	}

	if err := positiveU("pattern_result_cache_target_capacity_bytes", c.PatternResultCacheTargetCapacityBytes); err != nil {
		return err
	}
	if err := positive("pattern_result_cache_ttl_ms", c.PatternResultCacheTTLMs); err != nil {
		return err
	}
	if err := positiveU("pattern_cache_target_capacity_bytes", c.PatternCacheTargetCapacityBytes); err != nil {
		return err
	}
	if err := positive("pattern_cache_ttl_ms", c.PatternCacheTTLMs); err != nil {
		return err
	}
	if err := positive("deferred_cache_ttl_ms", c.DeferredCacheTTLMs); err != nil {
		return err
	}
	if err := positive("eviction_check_interval_ms", c.EvictionCheckIntervalMs); err != nil {
		return err
	}
	if c.PatternCacheLRUBatchSize == 0 {
		return &InvalidConfigError{Field: "pattern_cache_lru_batch_size", Reason: "must be > 0"}
	}

	// Leak-protection invariant: the Deferred Cache must hold entries
	// strictly longer than the Pattern Cache could have, so an evicted
	// entry has time to drop to refcount zero naturally before
	// force-eviction.
	if c.DeferredCacheTTLMs <= c.PatternCacheTTLMs {
		return &InvalidConfigError{
			Field:  "deferred_cache_ttl_ms",
			Reason: "must be strictly greater than pattern_cache_ttl_ms",
		}
	}

	return nil
}

// Serialize renders the configuration back to a JSON document such that
// Parse(c.Serialize()) reproduces an equal Config, per spec.md §8's
// round-trip property.
func (c *Config) Serialize() []byte {
	var buf []byte
	buf = append(buf, '{')
	writeBool := func(key string, v bool) {
		buf = append(buf, '"')
		buf = append(buf, key...)
		buf = append(buf, `":`...)
		if v {
			buf = append(buf, "true,"...)
		} else {
			buf = append(buf, "false,"...)
		}
	}
	writeInt := func(key string, v int64) {
		buf = append(buf, '"')
		buf = append(buf, key...)
		buf = append(buf, `":`...)
		buf = append(buf, strconv.FormatInt(v, 10)...)
		buf = append(buf, ',')
	}

	writeBool("cache_enabled", c.CacheEnabled)
	writeBool("pattern_result_cache_enabled", c.PatternResultCacheEnabled)
	writeInt("pattern_result_cache_target_capacity_bytes", int64(c.PatternResultCacheTargetCapacityBytes))
	writeInt("pattern_result_cache_string_threshold_bytes", int64(c.PatternResultCacheStringThresholdBytes))
	writeInt("pattern_result_cache_ttl_ms", c.PatternResultCacheTTLMs)
	writeInt("pattern_cache_target_capacity_bytes", int64(c.PatternCacheTargetCapacityBytes))
	writeInt("pattern_cache_ttl_ms", c.PatternCacheTTLMs)
	writeInt("pattern_cache_lru_batch_size", int64(c.PatternCacheLRUBatchSize))
	writeInt("deferred_cache_ttl_ms", c.DeferredCacheTTLMs)
	writeBool("auto_start_eviction_thread", c.AutoStartEvictionThread)
	writeInt("eviction_check_interval_ms", c.EvictionCheckIntervalMs)

	buf[len(buf)-1] = '}' // overwrite trailing comma
	return buf
}

// Default returns the configuration that results from parsing an empty
// JSON document: every field at its default value.
func Default() *Config {
	cfg := defaults()
	return &cfg
}
