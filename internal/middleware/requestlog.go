package middleware

import (
    "regexp"
    "time"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/babyfoot-reservation/internal/metrics"
)

const (
    ctxLogger    = "logger"
    ctxRequestID = "request_id"
)

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// RequestLogger tags every request with an X-Request-ID (reusing a sane
// incoming one), exposes a request-scoped logrus entry through Logger, and
// logs and times the request once it completes.
func RequestLogger(base log.FieldLogger, rec *metrics.Recorder) echo.MiddlewareFunc {
    if base == nil {
        base = log.StandardLogger()
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            req := c.Request()

            reqID := req.Header.Get(echo.HeaderXRequestID)
            if !requestIDPattern.MatchString(reqID) {
                reqID = uuid.NewString()
            }
            c.Response().Header().Set(echo.HeaderXRequestID, reqID)
            c.Set(ctxRequestID, reqID)

            entry := base.WithFields(log.Fields{
                "request_id": reqID,
                "method":     req.Method,
                "path":       req.URL.Path,
                "client_ip":  c.RealIP(),
            })
            c.Set(ctxLogger, entry)

            err := next(c)
            if err != nil {
                c.Error(err)
            }

            status := c.Response().Status
            elapsed := time.Since(start)
            rec.ObserveRequest(req.Method, c.Path(), status, elapsed)

            fields := log.Fields{"status": status, "duration_ms": elapsed.Milliseconds()}
            if uid, ok := UserID(c); ok {
                fields["user_id"] = uid
            }
            entry = entry.WithFields(fields)
            switch {
            case status >= 500:
                entry.WithError(err).Error("request failed")
            case status >= 400:
                entry.Info("request rejected")
            default:
                entry.Debug("request complete")
            }
            return nil
        }
    }
}

// Logger returns the request-scoped logger, or the standard logger when
// RequestLogger is not installed.
func Logger(c echo.Context) log.FieldLogger {
    if l, ok := c.Get(ctxLogger).(log.FieldLogger); ok {
        return l
    }
    return log.StandardLogger()
}

// RequestID returns the ID assigned by RequestLogger.
func RequestID(c echo.Context) string {
    id, _ := c.Get(ctxRequestID).(string)
    return id
}
