package middleware

// identity.go reads back what JWTAuth stored in the Echo context.

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// UserID returns the authenticated user's ID, or false when the request
// carries none.
func UserID(c echo.Context) (uint64, bool) {
    id, ok := c.Get(ctxUserID).(uint64)
    return id, ok && id != 0
}

// Role returns the authenticated user's role.
func Role(c echo.Context) (string, bool) {
    r, ok := c.Get(ctxRole).(string)
    return r, ok && r != ""
}

// subject identifies the caller for rate limiting: the user ID when
// authenticated, "anon" otherwise.
func subject(c echo.Context) string {
    if id, ok := UserID(c); ok {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}
