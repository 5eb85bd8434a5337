package ratelimit

import (
	"strings"

	"github.com/IshanKhanpara/tokenguard1/internal/config"
)

// DefaultRedisPrefix namespaces window keys when the config leaves the
// prefix blank.
const DefaultRedisPrefix = "tokenguard:rl"

// Settings selects the counting backend. Redis is optional; without it the
// limiter counts in process memory only.
type Settings struct {
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// FromConfig maps the application's Redis config onto limiter settings.
func FromConfig(redisCfg config.RedisConfig) Settings {
	prefix := strings.TrimSpace(redisCfg.Prefix)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return Settings{
		RedisEnabled:  redisCfg.Enabled,
		RedisAddr:     strings.TrimSpace(redisCfg.Addr),
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
		RedisPrefix:   prefix,
	}
}
