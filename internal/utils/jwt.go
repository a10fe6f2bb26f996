package utils // package utils provides helpers for issuing and verifying access tokens

import (
    "errors"
    "fmt"
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
)

// Roles carried in the "role" claim.
const (
    RolePlayer = "PLAYER"
    RoleAdmin  = "ADMIN"
)

// ErrInvalidToken is returned by ParseAccessToken for any token that cannot
// be trusted: bad signature, wrong algorithm, expired, or missing claims.
var ErrInvalidToken = errors.New("invalid token")

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// Identity is what a verified token says about its bearer.
type Identity struct {
    UserID uint64
    Role   string
}

// NewAccessToken builds and signs an HS256 JWT for a player or admin.  The
// subject is the decimal user ID so that standard claim validation applies.
func NewAccessToken(secret string, userID uint64, role string, ttlMin int) (AccessToken, error) {
    if userID == 0 {
        return AccessToken{}, errors.New("user id must be positive")
    }
    if role != RolePlayer && role != RoleAdmin {
        return AccessToken{}, fmt.Errorf("unknown role %q", role)
    }
    now := time.Now().UTC()
    exp := now.Add(time.Duration(ttlMin) * time.Minute)
    claims := jwt.MapClaims{
        "sub":  strconv.FormatUint(userID, 10),
        "role": role,
        "exp":  exp.Unix(),
        "iat":  now.Unix(),
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw against secret and extracts the bearer's
// identity.  Only HMAC-signed tokens are accepted.
func ParseAccessToken(secret, raw string) (Identity, error) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
        }
        return []byte(secret), nil
    }, jwt.WithExpirationRequired())
    if err != nil || !tok.Valid {
        return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
    }
    claims, ok := tok.Claims.(jwt.MapClaims)
    if !ok {
        return Identity{}, ErrInvalidToken
    }
    sub, err := claims.GetSubject()
    if err != nil {
        return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
    }
    id, err := strconv.ParseUint(sub, 10, 64)
    if err != nil || id == 0 {
        return Identity{}, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, sub)
    }
    role, _ := claims["role"].(string)
    if role == "" {
        return Identity{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
    }
    return Identity{UserID: id, Role: role}, nil
}
