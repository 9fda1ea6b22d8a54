// Package ratelimit caps how many generation backend calls all worker
// processes make per window, coordinated through Redis. User-facing work draws
// from a reserved pool so population sweeps cannot starve it.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 10 // calls per window
	DefaultReservedBudget = 6
	DefaultWindowSize     = time.Second
	DefaultKeyTTL         = 2 * time.Second // window + buffer
)

// Redis key prefixes for call tracking.
const (
	KeyPrefixTotal    = "charhub:gen:total:"
	KeyPrefixReserved = "charhub:gen:reserved:"
	KeyPrefixShared   = "charhub:gen:shared:"
)

// Priority selects the pool a call draws from.
type Priority int

const (
	// PriorityHigh is for user-facing image jobs (reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for administrative population jobs (shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// PriorityForQueue maps a queue onto its budget pool
func PriorityForQueue(q types.QueueName) Priority {
	if q == types.QueueCharacterPopulation {
		return PriorityLow
	}
	return PriorityHigh
}

// consumeScript checks both the total and the pool counter and increments
// them together, so concurrent workers never overshoot the budget.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local units = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + units > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + units > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, units)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, units)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + units, poolUsed + units}
`)

// BudgetTracker coordinates generation calls across processes using fixed
// Redis windows split into a reserved and a shared pool.
type BudgetTracker struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	now            func() time.Time
}

// BudgetTrackerConfig holds configuration for the budget tracker.
type BudgetTrackerConfig struct {
	// Redis is required.
	Redis redis.Cmdable

	// TotalBudget is the number of calls per window. Default: 10.
	TotalBudget int

	// ReservedBudget is the share of TotalBudget only high priority calls may use. Default: 6.
	ReservedBudget int

	WindowSize time.Duration
	KeyTTL     time.Duration
}

// UsageStats contains current consumption.
type UsageStats struct {
	TotalUsed      int
	ReservedUsed   int
	SharedUsed     int
	TotalBudget    int
	ReservedBudget int
	SharedBudget   int
	WindowStart    time.Time
}

// Validate checks if the configuration is valid.
func (c *BudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}

	totalBudget := c.TotalBudget
	if totalBudget == 0 {
		totalBudget = DefaultTotalBudget
	}
	reservedBudget := c.ReservedBudget
	if reservedBudget == 0 {
		reservedBudget = DefaultReservedBudget
	}

	if reservedBudget > totalBudget {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reservedBudget, totalBudget)
	}

	return nil
}

// NewBudgetTracker creates a new tracker with the given configuration.
func NewBudgetTracker(cfg *BudgetTrackerConfig) (*BudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	totalBudget := cfg.TotalBudget
	if totalBudget == 0 {
		totalBudget = DefaultTotalBudget
	}

	reservedBudget := cfg.ReservedBudget
	if reservedBudget == 0 {
		reservedBudget = DefaultReservedBudget
	}

	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}

	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = DefaultKeyTTL
	}

	return &BudgetTracker{
		redis:          cfg.Redis,
		totalBudget:    totalBudget,
		reservedBudget: reservedBudget,
		sharedBudget:   totalBudget - reservedBudget,
		windowSize:     windowSize,
		keyTTL:         keyTTL,
		now:            time.Now,
	}, nil
}

// windowTimestamp returns the start of the current window in milliseconds.
func (t *BudgetTracker) windowTimestamp() int64 {
	return t.now().Truncate(t.windowSize).UnixMilli()
}

func (t *BudgetTracker) keys(windowTS int64) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowTS, 10)
	return KeyPrefixTotal + ts, KeyPrefixReserved + ts, KeyPrefixShared + ts
}

// TryConsume takes units from the pool of priority. When refused it returns
// the time until the next window.
func (t *BudgetTracker) TryConsume(ctx context.Context, units int, priority Priority) (bool, time.Duration) {
	if units <= 0 {
		return true, 0
	}

	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	poolKey, poolBudget := sharedKey, t.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, t.reservedBudget
	}

	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		units, t.totalBudget, poolBudget, ttlSeconds).Int64Slice()
	if err != nil || len(result) == 0 || result[0] != 1 {
		// Redis errors deny the call
		return false, t.waitTime(windowTS)
	}

	return true, 0
}

// waitTime returns the time until the next window starts.
func (t *BudgetTracker) waitTime(windowTS int64) time.Duration {
	windowEnd := time.UnixMilli(windowTS).Add(t.windowSize)
	wait := windowEnd.Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Usage returns consumption in the current window.
func (t *BudgetTracker) Usage(ctx context.Context) (*UsageStats, error) {
	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)

	// redis.Nil only means the window has no calls yet
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}

	return &UsageStats{
		TotalUsed:      intOrZero(totalCmd),
		ReservedUsed:   intOrZero(reservedCmd),
		SharedUsed:     intOrZero(sharedCmd),
		TotalBudget:    t.totalBudget,
		ReservedBudget: t.reservedBudget,
		SharedBudget:   t.sharedBudget,
		WindowStart:    time.UnixMilli(windowTS),
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}
