package auth

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is the admin profile returned by the backend.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
	Roles     []Role     `json:"roles"`
	IsActive  bool       `json:"isActive"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	// Permissions is the optional backend supplied list. Nil means the
	// backend did not send one; an empty list grants nothing.
	Permissions []Permission `json:"permissions,omitempty"`
	// UnknownRoles holds role identifiers the backend sent that are not
	// part of the catalogue. They never grant anything.
	UnknownRoles []string `json:"-"`
}

// UnmarshalJSON accepts "roles" as a single string or an array and
// filters identifiers outside the role catalogue into UnknownRoles.
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	aux := struct {
		*alias
		Roles roleList `json:"roles"`
		Role  roleList `json:"role"`
	}{alias: (*alias)(u)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := []string(aux.Roles)
	if len(raw) == 0 {
		raw = aux.Role
	}

	u.Roles, u.UnknownRoles = ParseRoles(raw)
	return nil
}

// GetUserUUID parses the user ID as a UUID.
func (u *User) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(u.ID)
}

// FullName joins first and last name, falling back to the email.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// HasRole checks role membership.
func (u *User) HasRole(role Role) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots never share slices with the manager.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Roles != nil {
		c.Roles = append([]Role(nil), u.Roles...)
	}
	if u.Permissions != nil {
		c.Permissions = append([]Permission{}, u.Permissions...)
	}
	if u.UnknownRoles != nil {
		c.UnknownRoles = append([]string(nil), u.UnknownRoles...)
	}
	return &c
}

// TokenPair is what the backend hands out on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
	// ExpiresIn is the access token lifetime in seconds, zero when unknown.
	ExpiresIn int64 `json:"expiresIn,omitempty"`
}

// ExpiresAt resolves ExpiresIn against issuedAt.
func (t TokenPair) ExpiresAt(issuedAt time.Time) time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return issuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// LoginResponse is the payload of a successful login.
type LoginResponse struct {
	Tokens TokenPair `json:"tokens"`
	User   *User     `json:"user"`
}

// ChangePasswordRequest is sent to PUT /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}
