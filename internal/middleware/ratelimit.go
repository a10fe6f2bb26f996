package middleware

import (
    "context"
    "fmt"
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/babyfoot-reservation/internal/config"
)

// tokenBucketScript refills and takes one token atomically.  It returns
// {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill_tokens = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl_seconds = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last_refill = tonumber(state[2])

    if tokens == nil or last_refill == nil then
        tokens = capacity
        last_refill = now_ms
    end

    if interval_ms > 0 and refill_tokens > 0 then
        local elapsed = math.max(0, now_ms - last_refill)
        local intervals = math.floor(elapsed / interval_ms)
        if intervals > 0 then
            tokens = math.min(capacity, tokens + (intervals * refill_tokens))
            last_refill = last_refill + (intervals * interval_ms)
        end
    end

    local allowed = 0
    local retry_after_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
    end

    redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
    redis.call('EXPIRE', key, ttl_seconds)

    return { allowed, tokens, retry_after_ms }
`)

// Decision is the outcome of one Take.
type Decision struct {
    Allowed    bool
    Remaining  int64
    RetryAfter time.Duration
}

// RateLimiter is a distributed token bucket stored in Redis hashes.
type RateLimiter struct {
    cfg config.RateLimitConfig
    rdb redis.Scripter
    log log.FieldLogger
    now func() time.Time
}

// NewRateLimiter returns nil when limiting is disabled or Redis is absent;
// a nil limiter's Middleware lets every request through.
func NewRateLimiter(cfg config.RateLimitConfig, rdb *redis.Client, logger log.FieldLogger) *RateLimiter {
    if !cfg.Enabled || rdb == nil {
        return nil
    }
    if logger == nil {
        logger = log.StandardLogger()
    }
    return &RateLimiter{cfg: cfg, rdb: rdb, log: logger, now: time.Now}
}

// Take removes one token from the bucket under key.
func (l *RateLimiter) Take(ctx context.Context, key string) (Decision, error) {
    args := []interface{}{
        l.now().UnixMilli(),
        l.cfg.Capacity,
        l.cfg.RefillTokens,
        l.cfg.RefillInterval.Milliseconds(),
        int64(math.Ceil(l.cfg.TTL.Seconds())),
    }
    vals, err := tokenBucketScript.Run(ctx, l.rdb, []string{key}, args...).Result()
    if err != nil {
        return Decision{}, err
    }
    return parseDecision(vals)
}

func parseDecision(vals interface{}) (Decision, error) {
    arr, ok := vals.([]interface{})
    if !ok || len(arr) != 3 {
        return Decision{}, fmt.Errorf("ratelimit: unexpected script result %#v", vals)
    }
    return Decision{
        Allowed:    asInt64(arr[0]) == 1,
        Remaining:  asInt64(arr[1]),
        RetryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
    }, nil
}

// Middleware applies the limiter.  Redis failures fail open.
func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
    if l == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := rateKey(l.cfg, c)
            d, err := l.Take(c.Request().Context(), key)
            if err != nil {
                Logger(c).WithError(err).WithField("key", key).Warn("rate limiter unavailable")
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
            if d.Allowed {
                return next(c)
            }

            secs := int(math.Ceil(d.RetryAfter.Seconds()))
            h.Set(echo.HeaderRetryAfter, strconv.Itoa(secs))
            Logger(c).WithField("key", key).Info("rate limit exceeded")
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":       "too_many_requests",
                "message":     "rate limit exceeded",
                "retry_after": secs,
            })
        }
    }
}

func asInt64(v interface{}) int64 {
    switch t := v.(type) {
    case int64:
        return t
    case int:
        return int64(t)
    case float64:
        return int64(t)
    case string:
        if n, err := strconv.ParseInt(t, 10, 64); err == nil {
            return n
        }
    }
    return 0
}

// rateKey builds the bucket key from the configured strategy.  The route is
// the matched pattern so that /reservations/1 and /reservations/2 share a
// bucket.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    route := c.Request().Method + " " + c.Path()

    parts := []string{cfg.Prefix}
    switch strings.ToLower(cfg.KeyStrategy) {
    case "ip":
        parts = append(parts, "ip", ip)
    case "user":
        parts = append(parts, "user", subject(c))
    case "ip_user":
        parts = append(parts, "ip", ip, "user", subject(c))
    default:
        parts = append(parts, "ip", ip, "user", subject(c), "route", route)
    }
    return strings.Join(parts, ":")
}
