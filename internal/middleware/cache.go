package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/babyfoot-reservation/internal/booking"
    "github.com/iliyamo/babyfoot-reservation/internal/config"
)

// captureWriter keeps a copy of the response body, up to limit bytes, while
// forwarding everything to the client.
type captureWriter struct {
    http.ResponseWriter
    status int
    buf    bytes.Buffer
    size   int64
    limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
    cw.status = code
    cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
    if cw.limit <= 0 || cw.size+int64(len(b)) <= cw.limit {
        cw.buf.Write(b)
    }
    cw.size += int64(len(b))
    return cw.ResponseWriter.Write(b)
}

// truncated reports whether the body outgrew the capture limit.
func (cw *captureWriter) truncated() bool {
    return cw.limit > 0 && cw.size > cw.limit
}

// cacheKey hashes method, matched route, concrete path and query under the
// configured prefix.
func cacheKey(cfg config.CacheConfig, c echo.Context) string {
    r := c.Request()
    tail := strings.Join([]string{r.Method, c.Path(), r.URL.Path, r.URL.RawQuery}, "\n")
    sum := sha1.Sum([]byte(tail))
    return fmt.Sprintf("%s:%x", cfg.Prefix, sum[:])
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    hdrJSON, err := json.Marshal(header)
    if err != nil {
        return nil, err
    }
    out := make([]byte, 8+len(hdrJSON)+len(body))
    binary.BigEndian.PutUint32(out[0:4], uint32(status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
    copy(out[8:], hdrJSON)
    copy(out[8+len(hdrJSON):], body)
    return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
    if len(bs) < 8 {
        return 0, nil, nil, false
    }
    status = int(binary.BigEndian.Uint32(bs[0:4]))
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if 8+hlen > len(bs) {
        return 0, nil, nil, false
    }
    header = make(http.Header)
    if hlen > 0 {
        if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
            return 0, nil, nil, false
        }
    }
    return status, header, bs[8+hlen:], true
}

// NewRedisCache caches successful responses of the wrapped routes, headers
// included, for cfg.TTL.  It is a pass-through when disabled or when Redis
// is absent.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = 5 * time.Second
    }
    maxBody := int64(cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !cfg.Methods[c.Request().Method] {
                return next(c)
            }
            ctx := c.Request().Context()
            key := cacheKey(cfg, c)

            bs, err := rdb.Get(ctx, key).Bytes()
            if err != nil && !errors.Is(err, redis.Nil) {
                Logger(c).WithError(err).Warn("response cache read failed")
            }
            if status, hdr, body, ok := decodePayload(bs); err == nil && ok {
                for k, vals := range hdr {
                    if strings.EqualFold(k, echo.HeaderContentLength) {
                        continue
                    }
                    for _, v := range vals {
                        c.Response().Header().Add(k, v)
                    }
                }
                c.Response().Header().Set("X-Cache", "HIT")
                return c.Blob(status, hdr.Get(echo.HeaderContentType), body)
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }
            if cw.status != http.StatusOK || cw.truncated() {
                return nil
            }
            hdr := c.Response().Header().Clone()
            hdr.Del("X-Cache")
            hdr.Del(echo.HeaderXRequestID)
            payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
            if err == nil {
                err = rdb.SetEx(context.WithoutCancel(ctx), key, payload, ttl).Err()
            }
            if err != nil {
                Logger(c).WithError(err).Warn("response cache write failed")
            }
            return nil
        }
    }
}

// CachePurger drops every cached response when a reservation event changes
// what the table endpoints would return.  It is a booking.Notifier.
type CachePurger struct {
    Client  *redis.Client
    Prefix  string
    Timeout time.Duration
    Log     log.FieldLogger
}

// Notify implements booking.Notifier.
func (p *CachePurger) Notify(ctx context.Context, ev booking.Event) {
    if p == nil || p.Client == nil {
        return
    }
    timeout := p.Timeout
    if timeout <= 0 {
        timeout = time.Second
    }
    ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
    defer cancel()
    n, err := p.Purge(ctx)
    entry := p.logger().WithFields(log.Fields{"event": ev.Type, "table_id": ev.TableID, "purged": n})
    if err != nil {
        entry.WithError(err).Warn("response cache purge failed")
        return
    }
    entry.Debug("response cache purged")
}

// Purge deletes all keys under Prefix and returns how many were removed.
func (p *CachePurger) Purge(ctx context.Context) (int, error) {
    var n int
    iter := p.Client.Scan(ctx, 0, p.Prefix+":*", 100).Iterator()
    var batch []string
    flush := func() error {
        if len(batch) == 0 {
            return nil
        }
        deleted, err := p.Client.Del(ctx, batch...).Result()
        n += int(deleted)
        batch = batch[:0]
        return err
    }
    for iter.Next(ctx) {
        batch = append(batch, iter.Val())
        if len(batch) == 100 {
            if err := flush(); err != nil {
                return n, err
            }
        }
    }
    if err := iter.Err(); err != nil {
        return n, err
    }
    return n, flush()
}

func (p *CachePurger) logger() log.FieldLogger {
    if p.Log != nil {
        return p.Log
    }
    return log.StandardLogger()
}

var _ booking.Notifier = (*CachePurger)(nil)
