package models

import "fmt"

// Role is fixed for the lifetime of a live session.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole validates a role coming from a request or a token.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleTeacher, RoleStudent:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role %q", s)
}
