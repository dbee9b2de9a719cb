package realtime

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the ephemeral viewer identity carried by the join message.
type Identity struct {
	SessionID string
	UserID    string
}

// NewIdentity generates a fresh viewer session id. userID may be empty for anonymous viewers.
func NewIdentity(userID string) Identity {
	return Identity{SessionID: "viewer_" + uuid.NewString(), UserID: userID}
}

// IdentityFromToken builds an identity whose user id comes from the access token claims.
// The token is not verified here; the channel server does that.
func IdentityFromToken(token string) (Identity, error) {
	if token == "" {
		return NewIdentity(""), nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse access token: %w", err)
	}
	for _, key := range []string{"user_id", "userId", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return NewIdentity(v), nil
		}
	}
	return NewIdentity(""), nil
}
