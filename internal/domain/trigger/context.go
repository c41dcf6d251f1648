// Package trigger holds the per-call values passed through every transition attempt.
package trigger

import "strings"

// Principal is the calling identity a guard can inspect
type Principal interface {
	// ID returns the caller's user identifier
	ID() string

	// IsInRole reports whether the caller holds the named role
	IsInRole(role string) bool

	// Permissions returns the caller's permission claims
	Permissions() []string
}

// Context is created fresh for every Start/Evaluate/Fire call
type Context struct {
	EntityID   string
	EntityType string
	Principal  Principal

	// Subject optionally references the domain object that originated the call
	Subject any
}

// NewContext creates a trigger context for the given entity and caller
func NewContext(entityID string, principal Principal) Context {
	return Context{
		EntityID:  entityID,
		Principal: principal,
	}
}

// WithSubject returns a copy of the context carrying the originating domain object
func (c Context) WithSubject(subject any) Context {
	c.Subject = subject
	return c
}

// ActorID returns the principal's ID, or "system" when the call is anonymous
func (c Context) ActorID() string {
	if c.Principal == nil || c.Principal.ID() == "" {
		return "system"
	}
	return c.Principal.ID()
}

// ClaimsPrincipal is a Principal backed by plain role and permission lists
type ClaimsPrincipal struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	Claims []string `json:"permissions"`
}

// NewClaimsPrincipal creates a principal from role and permission lists
func NewClaimsPrincipal(userID string, roles, permissions []string) *ClaimsPrincipal {
	return &ClaimsPrincipal{
		UserID: userID,
		Roles:  roles,
		Claims: permissions,
	}
}

// ID returns the user identifier
func (p *ClaimsPrincipal) ID() string {
	return p.UserID
}

// IsInRole compares role names case-insensitively
func (p *ClaimsPrincipal) IsInRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Permissions returns the permission claims
func (p *ClaimsPrincipal) Permissions() []string {
	return p.Claims
}

// Verify interface compliance
var _ Principal = (*ClaimsPrincipal)(nil)
