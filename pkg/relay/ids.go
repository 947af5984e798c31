// Copyright 2024-2026 Aiku AI

package relay

import (
	"github.com/google/uuid"
)

// Role is the declared category of a connection.
type Role string

const (
	RoleExtension Role = "extension"
	RoleAndroid   Role = "android"
)

// Roles lists every known role in a stable order.
var Roles = []Role{RoleExtension, RoleAndroid}

// ParseRole maps a client type string from an identify event to a Role.
// Matching is exact; anything other than "extension" or "android" is unknown.
func ParseRole(clientType string) (Role, bool) {
	switch Role(clientType) {
	case RoleExtension:
		return RoleExtension, true
	case RoleAndroid:
		return RoleAndroid, true
	default:
		return "", false
	}
}

// Opposite returns the role that receives broadcasts originating from r.
func (r Role) Opposite() Role {
	if r == RoleAndroid {
		return RoleExtension
	}
	return RoleAndroid
}

// Label returns a human-readable name for log lines.
func (r Role) Label() string {
	switch r {
	case RoleExtension:
		return "Chrome Extension"
	case RoleAndroid:
		return "Android App"
	default:
		return "Unknown client"
	}
}

// ConnectionID is the transport-assigned identifier of a connection.
type ConnectionID string

// NewConnectionID generates a random connection identifier.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

func (id ConnectionID) String() string {
	return string(id)
}
