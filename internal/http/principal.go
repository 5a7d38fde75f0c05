package http

import (
	"github.com/google/uuid"

	"raito/internal/store"
)

// Principal represents the authenticated identity for a request. It is
// always derived from an API key; there is no separate user or session
// concept in this deployment.
type Principal struct {
	APIKeyID      *uuid.UUID
	TeamID        *uuid.UUID
	IsSystemAdmin bool

	// Preview marks the shared documentation credential: no team, no
	// billing, rate-limited per caller IP.
	Preview bool
}

// principalFromAPIKey builds a Principal from a store.APIKey.
func principalFromAPIKey(k store.APIKey) Principal {
	id := k.ID
	teamID := k.TeamID
	return Principal{
		APIKeyID:      &id,
		TeamID:        &teamID,
		IsSystemAdmin: k.IsAdmin,
	}
}
