package artifacts

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// pinBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key, ARGV[1] = refill rate (tokens/sec),
// ARGV[2] = capacity, ARGV[3] = cost, ARGV[4] = now (unix seconds,
// fractional).
var pinBucketScript = redis.NewScript(`
local key = KEYS[1]
local refill = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * refill
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)

return allowed
`)

// Pinner wraps a Store with per-actor pin rate limiting. With a Redis
// client configured the bucket is shared across replicas; without one
// (or when Redis errors) a process-local limiter takes over, so a
// Redis outage degrades to local limiting instead of blocking pins.
type Pinner struct {
	store     Store
	rdb       *redis.Client
	local     *rate.Limiter
	perSec    float64
	burst     int
	logger    *slog.Logger
	clock     func() time.Time
	keyPrefix string
	localOnly bool
}

// PinnerOption configures a Pinner.
type PinnerOption func(*Pinner)

// WithRedis shares the pin bucket through Redis.
func WithRedis(rdb *redis.Client) PinnerOption {
	return func(p *Pinner) { p.rdb = rdb }
}

// WithPinRate overrides the default 60 pins/minute with burst 10.
func WithPinRate(perMinute, burst int) PinnerOption {
	return func(p *Pinner) {
		if perMinute > 0 {
			p.perSec = float64(perMinute) / 60.0
		}
		if burst > 0 {
			p.burst = burst
		}
	}
}

// WithPinLogger sets the structured logger.
func WithPinLogger(logger *slog.Logger) PinnerOption {
	return func(p *Pinner) { p.logger = logger }
}

// NewPinner wraps store with rate limiting.
func NewPinner(store Store, opts ...PinnerOption) *Pinner {
	p := &Pinner{
		store:     store,
		perSec:    1.0,
		burst:     10,
		logger:    slog.Default(),
		clock:     time.Now,
		keyPrefix: "drp:pin:",
	}
	for _, opt := range opts {
		opt(p)
	}
	p.local = rate.NewLimiter(rate.Limit(p.perSec), p.burst)
	p.localOnly = p.rdb == nil
	return p
}

// Pin stores data on behalf of actor, subject to the actor's bucket.
// A denied pin is a pin-rate-limited fault; transport layers map it
// to a retry-later response.
func (p *Pinner) Pin(ctx context.Context, actor string, data []byte) (string, error) {
	allowed := p.allow(ctx, actor)
	if !allowed {
		return "", fault.Unavailable(CodePinRateLimited, nil,
			"pin rate exceeded for %s, retry later", actor)
	}
	cid, err := p.store.Store(ctx, data)
	if err != nil {
		return "", err
	}
	p.logger.Debug("artifact pinned", "actor", actor, "cid", cid, "bytes", len(data))
	return cid, nil
}

// Unpin removes an artifact. Unpinning is not rate limited.
func (p *Pinner) Unpin(ctx context.Context, cid string) error {
	return p.store.Delete(ctx, cid)
}

func (p *Pinner) allow(ctx context.Context, actor string) bool {
	if p.localOnly {
		return p.local.Allow()
	}

	now := float64(p.clock().UnixMicro()) / 1e6
	res, err := pinBucketScript.Run(ctx, p.rdb,
		[]string{p.keyPrefix + actor}, p.perSec, p.burst, 1, now).Int64()
	if err != nil {
		p.logger.Warn("redis pin bucket unavailable, using local limiter", "error", err)
		return p.local.Allow()
	}
	return res == 1
}
