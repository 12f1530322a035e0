package auth

import (
	"sort"
	"strings"
)

// Permission is a single fine-grained capability identifier.
type Permission string

// PermissionDomain groups permissions by the back-office area they guard.
type PermissionDomain string

const (
	DomainUsers       PermissionDomain = "users"
	DomainResources   PermissionDomain = "resources"
	DomainReports     PermissionDomain = "reports"
	DomainStreaming   PermissionDomain = "streaming"
	DomainChurchInfo  PermissionDomain = "church-info"
	DomainAnalytics   PermissionDomain = "analytics"
	DomainSystem      PermissionDomain = "system"
	DomainContact     PermissionDomain = "contact"
	DomainDepartments PermissionDomain = "departments"
)

const (
	// users
	PermCreateUser  Permission = "create_user"
	PermReadUser    Permission = "read_user"
	PermUpdateUser  Permission = "update_user"
	PermDeleteUser  Permission = "delete_user"
	PermManageRoles Permission = "manage_roles"

	// resources
	PermCreateResource  Permission = "create_resource"
	PermReadResource    Permission = "read_resource"
	PermUpdateResource  Permission = "update_resource"
	PermDeleteResource  Permission = "delete_resource"
	PermPublishResource Permission = "publish_resource"

	// reports
	PermCreateReport  Permission = "create_report"
	PermReadReport    Permission = "read_report"
	PermUpdateReport  Permission = "update_report"
	PermDeleteReport  Permission = "delete_report"
	PermApproveReport Permission = "approve_report"
	PermExportReport  Permission = "export_report"

	// streaming
	PermReadStream           Permission = "read_stream"
	PermStartStream          Permission = "start_stream"
	PermStopStream           Permission = "stop_stream"
	PermManageStreamSettings Permission = "manage_stream_settings"

	// church info
	PermReadChurchInfo   Permission = "read_church_info"
	PermUpdateChurchInfo Permission = "update_church_info"

	// analytics
	PermReadDashboard   Permission = "read_dashboard"
	PermReadAnalytics   Permission = "read_analytics"
	PermExportAnalytics Permission = "export_analytics"

	// system
	PermReadSystemStatus     Permission = "read_system_status"
	PermManageSystemSettings Permission = "manage_system_settings"
	PermReadAuditLog         Permission = "read_audit_log"

	// contact submissions
	PermReadContact    Permission = "read_contact"
	PermRespondContact Permission = "respond_contact"
	PermDeleteContact  Permission = "delete_contact"

	// departments
	PermCreateDepartment Permission = "create_department"
	PermReadDepartment   Permission = "read_department"
	PermUpdateDepartment Permission = "update_department"
	PermDeleteDepartment Permission = "delete_department"
)

var permissionDomains = map[Permission]PermissionDomain{
	PermCreateUser:  DomainUsers,
	PermReadUser:    DomainUsers,
	PermUpdateUser:  DomainUsers,
	PermDeleteUser:  DomainUsers,
	PermManageRoles: DomainUsers,

	PermCreateResource:  DomainResources,
	PermReadResource:    DomainResources,
	PermUpdateResource:  DomainResources,
	PermDeleteResource:  DomainResources,
	PermPublishResource: DomainResources,

	PermCreateReport:  DomainReports,
	PermReadReport:    DomainReports,
	PermUpdateReport:  DomainReports,
	PermDeleteReport:  DomainReports,
	PermApproveReport: DomainReports,
	PermExportReport:  DomainReports,

	PermReadStream:           DomainStreaming,
	PermStartStream:          DomainStreaming,
	PermStopStream:           DomainStreaming,
	PermManageStreamSettings: DomainStreaming,

	PermReadChurchInfo:   DomainChurchInfo,
	PermUpdateChurchInfo: DomainChurchInfo,

	PermReadDashboard:   DomainAnalytics,
	PermReadAnalytics:   DomainAnalytics,
	PermExportAnalytics: DomainAnalytics,

	PermReadSystemStatus:     DomainSystem,
	PermManageSystemSettings: DomainSystem,
	PermReadAuditLog:         DomainSystem,

	PermReadContact:    DomainContact,
	PermRespondContact: DomainContact,
	PermDeleteContact:  DomainContact,

	PermCreateDepartment: DomainDepartments,
	PermReadDepartment:   DomainDepartments,
	PermUpdateDepartment: DomainDepartments,
	PermDeleteDepartment: DomainDepartments,
}

// rolePermissions is the static role to permission table. It only
// changes with a redeploy.
var rolePermissions = map[Role][]Permission{
	RoleSuperAdmin: AllPermissions(),
	RoleAdmin: without(AllPermissions(),
		PermManageSystemSettings,
	),
	RolePastor: {
		PermReadUser,
		PermCreateResource, PermReadResource, PermUpdateResource, PermPublishResource,
		PermCreateReport, PermReadReport, PermUpdateReport, PermApproveReport, PermExportReport,
		PermReadStream, PermStartStream, PermStopStream,
		PermReadChurchInfo, PermUpdateChurchInfo,
		PermReadDashboard, PermReadAnalytics,
		PermReadContact, PermRespondContact,
		PermReadDepartment, PermUpdateDepartment,
	},
	RoleMinistryLeader: {
		PermReadUser,
		PermCreateResource, PermReadResource, PermUpdateResource,
		PermCreateReport, PermReadReport, PermUpdateReport,
		PermReadStream,
		PermReadChurchInfo,
		PermReadDashboard,
		PermReadContact,
		PermReadDepartment,
	},
	RoleEditor: {
		PermCreateResource, PermReadResource, PermUpdateResource, PermDeleteResource, PermPublishResource,
		PermReadReport,
		PermReadChurchInfo, PermUpdateChurchInfo,
		PermReadDashboard,
	},
	RoleMember: {
		PermReadResource,
		PermReadStream,
		PermReadChurchInfo,
	},
}

// Domain returns the area the permission belongs to, empty when the
// permission is not part of the catalogue.
func (p Permission) Domain() PermissionDomain {
	return permissionDomains[p]
}

// IsValid reports whether the permission is part of the catalogue.
func (p Permission) IsValid() bool {
	_, ok := permissionDomains[p]
	return ok
}

func (p Permission) String() string {
	return string(p)
}

// ParsePermission accepts snake or kebab case identifiers.
func ParsePermission(raw string) (Permission, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	p := Permission(strings.ReplaceAll(normalized, "-", "_"))
	return p, p.IsValid()
}

// AllPermissions returns the catalogue sorted by identifier.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(permissionDomains))
	for p := range permissionDomains {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

// PermissionsByDomain returns the sorted permissions of one domain.
func PermissionsByDomain(domain PermissionDomain) []Permission {
	out := []Permission{}
	for p, d := range permissionDomains {
		if d == domain {
			out = append(out, p)
		}
	}
	sortPermissions(out)
	return out
}

// RolePermissions returns a copy of the permissions granted to role.
func RolePermissions(role Role) []Permission {
	granted := rolePermissions[role]
	out := make([]Permission, len(granted))
	copy(out, granted)
	return out
}

func without(all []Permission, drop ...Permission) []Permission {
	skip := make(map[Permission]struct{}, len(drop))
	for _, p := range drop {
		skip[p] = struct{}{}
	}
	out := make([]Permission, 0, len(all))
	for _, p := range all {
		if _, ok := skip[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
}

// PermissionSource names where an Engine takes its decisions from.
type PermissionSource string

const (
	// SourceNone means the user has no roles and no backend list
	SourceNone PermissionSource = "none"
	// SourceRoles means decisions derive from the static role table
	SourceRoles PermissionSource = "roles"
	// SourceBackend means the backend supplied list is authoritative
	SourceBackend PermissionSource = "backend"
)

// Engine evaluates permission checks for a single user. It is immutable
// once built and safe for concurrent use.
//
// When the backend supplies a permission list it wins entirely: roles
// are ignored for Can/CanAny/CanAll and the two sources are never merged.
// HasRole and HasAnyRole always look at the role set.
type Engine struct {
	roles   map[Role]struct{}
	granted map[Permission]struct{}
	source  PermissionSource
}

// NewEngine builds an engine for user. A nil user is authorized for nothing.
func NewEngine(user *User) *Engine {
	if user == nil {
		return NewEngineFromRoles(nil, nil)
	}
	return NewEngineFromRoles(user.Roles, user.Permissions)
}

// NewEngineFromRoles builds an engine from a role set and an optional
// backend permission list. A nil list means the backend sent none.
func NewEngineFromRoles(roles []Role, backend []Permission) *Engine {
	e := &Engine{
		roles:   make(map[Role]struct{}, len(roles)),
		granted: map[Permission]struct{}{},
		source:  SourceNone,
	}

	for _, r := range roles {
		e.roles[r] = struct{}{}
	}

	if backend != nil {
		e.source = SourceBackend
		for _, p := range backend {
			e.granted[p] = struct{}{}
		}
		return e
	}

	for r := range e.roles {
		for _, p := range rolePermissions[r] {
			e.granted[p] = struct{}{}
		}
	}

	if len(e.roles) > 0 {
		e.source = SourceRoles
	}

	return e
}

// Can reports whether the permission is granted.
func (e *Engine) Can(p Permission) bool {
	if e == nil {
		return false
	}
	_, ok := e.granted[p]
	return ok
}

// CanAny is true when at least one permission is granted, false for an empty list.
func (e *Engine) CanAny(perms ...Permission) bool {
	for _, p := range perms {
		if e.Can(p) {
			return true
		}
	}
	return false
}

// CanAll is true when every permission is granted, true for an empty list.
func (e *Engine) CanAll(perms ...Permission) bool {
	for _, p := range perms {
		if !e.Can(p) {
			return false
		}
	}
	return true
}

// HasRole checks role membership independent of permission derivation.
func (e *Engine) HasRole(role Role) bool {
	if e == nil {
		return false
	}
	_, ok := e.roles[role]
	return ok
}

// HasAnyRole checks if any of roles is held.
func (e *Engine) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if e.HasRole(r) {
			return true
		}
	}
	return false
}

// Source reports which input decides Can.
func (e *Engine) Source() PermissionSource {
	if e == nil {
		return SourceNone
	}
	return e.source
}

// Granted returns the effective permission set, sorted.
func (e *Engine) Granted() []Permission {
	if e == nil {
		return nil
	}
	out := make([]Permission, 0, len(e.granted))
	for p := range e.granted {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}
