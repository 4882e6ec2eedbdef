package config

import "time"

// RateLimitConfig controls the Redis token bucket in front of the view API.
// It only applies when Redis is enabled and reachable.
type RateLimitConfig struct {
	Enabled        bool          `env:"RATE_LIMIT_ENABLED"         envDefault:"false"`
	Capacity       int           `env:"RATE_LIMIT_CAPACITY"        envDefault:"120"`
	RefillTokens   int           `env:"RATE_LIMIT_REFILL_TOKENS"   envDefault:"2"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
	TTL            time.Duration `env:"RATE_LIMIT_TTL"             envDefault:"10m"`
	Prefix         string        `env:"RATE_LIMIT_PREFIX"          envDefault:"floor:rl"`
}

// Normalized clamps the values the limiter script divides by or expires
// with.
func (c RateLimitConfig) Normalized() RateLimitConfig {
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
	return c
}
