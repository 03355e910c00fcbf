package security

import (
	"sync"
	"time"
)

// ResourceLimits defines the runtime limits the sandbox enforces on a pack.
type ResourceLimits struct {
	// InstructionLimit is the maximum Lua instructions per execution.
	InstructionLimit int64 `yaml:"instructionLimit"`

	// FileOpsPerSecond caps file operations through the gateway bindings.
	FileOpsPerSecond int `yaml:"fileOpsPerSecond"`

	// MaxOutputBytes caps the bytes a single execution may produce.
	MaxOutputBytes int64 `yaml:"maxOutputBytes"`
}

// DefaultResourceLimits returns sensible default limits.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		InstructionLimit: 10_000_000,
		FileOpsPerSecond: 100,
		MaxOutputBytes:   1 * 1024 * 1024, // 1 MB
	}
}

// StrictResourceLimits returns stricter limits for untrusted packs.
func StrictResourceLimits() ResourceLimits {
	return ResourceLimits{
		InstructionLimit: 1_000_000,
		FileOpsPerSecond: 10,
		MaxOutputBytes:   256 * 1024, // 256 KB
	}
}

// RateLimiter implements a simple token bucket rate limiter.
type RateLimiter struct {
	mu sync.Mutex

	rate       int       // operations per second
	tokens     int       // current tokens
	maxTokens  int       // maximum tokens (burst size)
	lastRefill time.Time // last token refill time
}

// NewRateLimiter creates a new rate limiter. A rate of zero or less means
// no limit.
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		return &RateLimiter{rate: 0, tokens: 1, maxTokens: 1}
	}
	return &RateLimiter{
		rate:       ratePerSecond,
		tokens:     ratePerSecond,
		maxTokens:  ratePerSecond,
		lastRefill: time.Now(),
	}
}

// Allow returns true if an operation is allowed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rate == 0 {
		return true
	}

	// Refill tokens based on elapsed time
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.rate))
	if tokensToAdd > 0 {
		rl.tokens += tokensToAdd
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens <= 0 {
		return false
	}

	rl.tokens--
	return true
}

// Reset resets the rate limiter to full capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.maxTokens
	rl.lastRefill = time.Now()
}
