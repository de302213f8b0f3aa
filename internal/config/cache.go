package config

import (
	"strings"
	"time"
)

// CacheConfig controls the Redis response cache.  Only the room catalog is
// cached; availability is always computed live.
type CacheConfig struct {
	Enabled      bool          `envconfig:"CACHE_ENABLED" default:"true"`
	Methods      []string      `envconfig:"CACHE_METHODS" default:"GET"`
	TTL          time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	KeyStrategy  string        `envconfig:"CACHE_KEY_STRATEGY" default:"route_query"`
	Prefix       string        `envconfig:"CACHE_PREFIX" default:"cache"`
	MaxBodyBytes int           `envconfig:"CACHE_MAX_BODY_BYTES" default:"1048576"`

	methodSet map[string]bool
}

func (c *CacheConfig) normalize() {
	c.methodSet = make(map[string]bool, len(c.Methods))
	for _, m := range c.Methods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			c.methodSet[m] = true
		}
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
}

// Caches reports whether responses to method are cacheable.
func (c CacheConfig) Caches(method string) bool {
	if c.methodSet == nil {
		c.normalize()
	}
	return c.methodSet[strings.ToUpper(method)]
}
