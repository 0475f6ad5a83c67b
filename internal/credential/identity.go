package credential

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Identity is what the console reads from an access token. The signature
// is not checked; the server does that on every request.
type Identity struct {
	UserID    int
	Email     string
	ExpiresAt time.Time
}

// Expired reports whether the token had an expiry before now.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// ParseIdentity extracts the user id and expiry from a JWT.
func ParseIdentity(token string) (Identity, error) {
	if token == "" {
		return Identity{}, errors.New("empty token")
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Identity{}, fmt.Errorf("parsing token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("unexpected claims type")
	}

	var ident Identity
	for _, key := range []string{"sub", "userId", "id"} {
		if id, ok := claimInt(claims[key]); ok {
			ident.UserID = id
			break
		}
	}
	ident.Email, _ = claims["email"].(string)
	if exp, ok := claimInt(claims["exp"]); ok {
		ident.ExpiresAt = time.Unix(int64(exp), 0)
	}

	if ident.UserID == 0 {
		return ident, errors.New("token carries no user id")
	}
	return ident, nil
}

func claimInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		id, err := strconv.Atoi(n)
		return id, err == nil
	}
	return 0, false
}
