package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is a closed enumeration of admin roles. Values outside the
// catalogue are rejected by ParseRole instead of silently granting nothing.
type Role string

const (
	// RoleSuperAdmin has every permission in the catalogue
	RoleSuperAdmin Role = "super_admin"
	// RoleAdmin runs the back-office, minus system settings
	RoleAdmin Role = "admin"
	// RolePastor approves reports and controls streaming
	RolePastor Role = "pastor"
	// RoleMinistryLeader files reports and curates resources for a ministry
	RoleMinistryLeader Role = "ministry_leader"
	// RoleEditor maintains resources and church information
	RoleEditor Role = "editor"
	// RoleMember is a signed in member with read access
	RoleMember Role = "member"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RolePastor, RoleMinistryLeader, RoleEditor, RoleMember:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// Level returns the role rank, -1 for unknown roles.
func (r Role) Level() int {
	switch r {
	case RoleMember:
		return 0
	case RoleEditor:
		return 1
	case RoleMinistryLeader:
		return 2
	case RolePastor:
		return 3
	case RoleAdmin:
		return 4
	case RoleSuperAdmin:
		return 5
	default:
		return -1
	}
}

// IsAtLeast checks if this role meets the minimum required level
func (r Role) IsAtLeast(minRole Role) bool {
	current, min := r.Level(), minRole.Level()
	if current < 0 || min < 0 {
		return false
	}
	return current >= min
}

// UnmarshalText rejects identifiers outside the catalogue.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []Role {
	return []Role{
		RoleMember,
		RoleEditor,
		RoleMinistryLeader,
		RolePastor,
		RoleAdmin,
		RoleSuperAdmin,
	}
}

// ParseRole parses a role identifier. Matching is case insensitive and
// tolerates dashes ("ministry-leader").
func ParseRole(raw string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	role := Role(normalized)
	if !role.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

// ParseRoles parses every identifier, returning the known roles and the
// raw values that were rejected.
func ParseRoles(raw []string) (roles []Role, unknown []string) {
	seen := make(map[Role]struct{}, len(raw))
	for _, r := range raw {
		role, err := ParseRole(r)
		if err != nil {
			unknown = append(unknown, r)
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles, unknown
}

// roleList decodes the backend roles field which may be a single
// string or an array of strings.
type roleList []string

func (l *roleList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*l = nil
			return nil
		}
		*l = roleList{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("roles must be a string or an array of strings: %w", err)
	}
	*l = many
	return nil
}
