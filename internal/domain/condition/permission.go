package condition

import "github.com/garyjia/workflow-engine/internal/domain/trigger"

// AdministratorRole satisfies every permission condition regardless of mode
const AdministratorRole = "admin"

// PermissionMode selects whether the permission set must or must not be held
type PermissionMode string

const (
	ModeMustHave    PermissionMode = "must_have"
	ModeMustNotHave PermissionMode = "must_not_have"
)

// IsValid returns true for the two known modes
func (m PermissionMode) IsValid() bool {
	return m == ModeMustHave || m == ModeMustNotHave
}

// Permission checks the caller's permission claims against a configured set
type Permission struct {
	Mode        PermissionMode `mapstructure:"mode" json:"mode"`
	Permissions []string       `mapstructure:"permissions" json:"permissions"`
}

// MustHave passes when the caller holds any of the given permissions
func MustHave(permissions ...string) *Permission {
	return &Permission{Mode: ModeMustHave, Permissions: permissions}
}

// MustNotHave passes when the caller holds none of the given permissions
func MustNotHave(permissions ...string) *Permission {
	return &Permission{Mode: ModeMustNotHave, Permissions: permissions}
}

// Kind returns KindPermission
func (p *Permission) Kind() Kind {
	return KindPermission
}

// IsSatisfiedBy returns true for administrators, otherwise applies the mode
// to the intersection of the caller's claims with the configured set.
// An anonymous caller holds no roles and no claims.
func (p *Permission) IsSatisfiedBy(tc trigger.Context) bool {
	var claims []string
	if tc.Principal != nil {
		if tc.Principal.IsInRole(AdministratorRole) {
			return true
		}
		claims = tc.Principal.Permissions()
	}

	held := intersects(claims, p.Permissions)
	if p.Mode == ModeMustNotHave {
		return !held
	}
	return held
}

// Params implements Encodable
func (p *Permission) Params() map[string]any {
	perms := make([]any, len(p.Permissions))
	for i, perm := range p.Permissions {
		perms[i] = perm
	}
	return map[string]any{
		"mode":        string(p.Mode),
		"permissions": perms,
	}
}

func intersects(claims, set []string) bool {
	if len(claims) == 0 || len(set) == 0 {
		return false
	}
	wanted := make(map[string]struct{}, len(set))
	for _, s := range set {
		wanted[s] = struct{}{}
	}
	for _, c := range claims {
		if _, ok := wanted[c]; ok {
			return true
		}
	}
	return false
}
