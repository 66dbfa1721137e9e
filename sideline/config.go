package sideline

import (
	"strconv"
	"strings"
)

// Configuration keys recognized by the engine. Plugin keys select a
// registered implementation by name; the rest are primitives.
const (
	CfgDeserializerClass       = "deserializer.class"
	CfgRetryManagerClass       = "failed_msg_retry_manager.class"
	CfgPersistenceManagerClass = "persistence_manager.class"
	CfgMetricsRecorderClass    = "metrics_recorder.class"
	CfgTupleBufferClass        = "tuple_buffer.class"

	CfgKafkaBrokers = "kafka.brokers"
	CfgKafkaTopic   = "kafka.topic"

	CfgConsumerIndex          = "consumer.index"
	CfgConsumerTotalInstances = "consumer.total_instances"

	CfgRetryMaxRetries      = "retry_manager.max_retries"
	CfgRetryInitialDelayMs  = "retry_manager.initial_delay_ms"
	CfgRetryDelayMultiplier = "retry_manager.delay_multiplier"
	CfgRetryMaxDelayMs      = "retry_manager.max_delay_ms"

	CfgZkServers          = "persistence.zk.servers"
	CfgZkRoot             = "persistence.zk.root"
	CfgZkSessionTimeoutMs = "persistence.zk.session_timeout_ms"
)

// Config is the string-keyed configuration handed to every component.
// Values are primitives or lists; typed accessors coerce leniently the
// way topology configuration is usually fed in (numbers may arrive as
// int, int64, float64 or string).
type Config map[string]interface{}

// String returns the value for key as a string, or def when absent.
func (c Config) String(key, def string) string {
	v, ok := c[key]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// Int returns the value for key as an int, or def when absent or not
// numeric.
func (c Config) Int(key string, def int) int {
	return int(c.Int64(key, int64(def)))
}

// Int64 returns the value for key as an int64, or def when absent or not
// numeric.
func (c Config) Int64(key string, def int64) int64 {
	switch v := c[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// Float64 returns the value for key as a float64, or def when absent or
// not numeric.
func (c Config) Float64(key string, def float64) float64 {
	switch v := c[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// StringSlice returns the value for key as a list of strings. A plain
// string is split on commas.
func (c Config) StringSlice(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return nil
}
