package domain

import "fmt"

// Role decides which client actions a connection may perform and which
// role-targeted messages it receives.
type Role string

const (
	RoleAttendee Role = "attendee"
	RoleHost     Role = "host"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAttendee, RoleHost:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}
