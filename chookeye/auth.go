package chookeye

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Session is an authenticated chookeye session: the bearer token plus the
// identity of the signed-in user.
type Session struct {
	Token string
	User  User
}

// Expiry returns the token's expiry time. ok is false when the token is
// unparseable or carries no exp claim.
func (s *Session) Expiry() (exp time.Time, ok bool) {
	claims, err := parseClaims(s.Token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// sessionClaims is the claim set the backend embeds in its tokens.
type sessionClaims struct {
	UserID   int    `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserFromToken recovers the user identity from a signed token's claims.
// The signature is not verified here: the server is the authority on token
// validity, the client only needs the identity for local flag checks.
func UserFromToken(token string) (User, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return User{}, err
	}
	if claims.UserID == 0 {
		return User{}, errors.New("token carries no user_id claim")
	}
	return User{
		ID:       claims.UserID,
		Email:    claims.Email,
		Username: claims.Username,
	}, nil
}

func parseClaims(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, errors.Wrap(err, "failed to parse token")
	}
	return claims, nil
}
