package enums

import "fmt"

// ActorRole identifies who is calling the engine surface.
type ActorRole string

const (
	ActorRolePlatformAdmin ActorRole = "platform_admin"
	ActorRoleVendorAdmin   ActorRole = "vendor_admin"
	ActorRoleSystem        ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRolePlatformAdmin,
	ActorRoleVendorAdmin,
	ActorRoleSystem,
}

func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
