package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims is the subset of the backend access token we read
// locally. Signatures are never verified client side; the backend is
// the authority and the profile call re-asserts the token.
type accessClaims struct {
	jwt.RegisteredClaims
	UID         string       `json:"uid,omitempty"`
	UserID      string       `json:"userId,omitempty"`
	Email       string       `json:"email,omitempty"`
	Roles       roleList     `json:"roles,omitempty"`
	Role        roleList     `json:"role,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// TokenInfo is what can be read from an access token without a network call.
type TokenInfo struct {
	Subject     string
	Email       string
	Roles       []Role
	Permissions []Permission
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// HasExpiry reports whether the token carries an exp claim.
func (t *TokenInfo) HasExpiry() bool {
	return !t.ExpiresAt.IsZero()
}

// ExpiredAt reports whether the token is expired at now, with leeway
// subtracted from the expiry so a token about to lapse counts as stale.
func (t *TokenInfo) ExpiredAt(now time.Time, leeway time.Duration) bool {
	if !t.HasExpiry() {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-leeway))
}

// PlaceholderUser builds the provisional profile used while the
// optimistic session waits for the backend profile.
func (t *TokenInfo) PlaceholderUser() *User {
	return &User{
		ID:          t.Subject,
		Email:       t.Email,
		Roles:       append([]Role(nil), t.Roles...),
		Permissions: t.Permissions,
		IsActive:    true,
	}
}

// InspectToken decodes the access token claims without verifying the
// signature. Anything that is not a decodable JWT is ErrTokenMalformed.
func InspectToken(raw string) (*TokenInfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenMissing
	}

	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	info := &TokenInfo{
		Subject:     firstNonEmpty(claims.Subject, claims.UID, claims.UserID),
		Email:       claims.Email,
		Permissions: claims.Permissions,
	}

	raws := []string(claims.Roles)
	if len(raws) == 0 {
		raws = claims.Role
	}
	info.Roles, _ = ParseRoles(raws)

	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}

	return info, nil
}

// CheckTokenFresh runs the local staleness check. It returns nil for a
// live token, ErrTokenExpired for a lapsed one and ErrTokenMalformed or
// ErrTokenMissing otherwise. Callers treat every error as expired.
func CheckTokenFresh(raw string, now time.Time, leeway time.Duration) (*TokenInfo, error) {
	info, err := InspectToken(raw)
	if err != nil {
		return nil, err
	}
	if info.ExpiredAt(now, leeway) {
		return info, ErrTokenExpired
	}
	return info, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
