package service

import (
	"go.uber.org/zap"

	"github.com/noah-isme/qbank-api/internal/models"
)

// AuthorizationGate decides whether an actor may mutate files of a question set.
type AuthorizationGate struct {
	allowAnyAuthenticated bool
}

// NewAuthorizationGate builds the gate. allowAnyAuthenticated replaces the
// owner-or-admin rule with "any signed-in user" and is logged loudly.
func NewAuthorizationGate(allowAnyAuthenticated bool, logger *zap.Logger) *AuthorizationGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if allowAnyAuthenticated {
		logger.Warn("file authorization relaxed: any authenticated user may mutate files")
	}
	return &AuthorizationGate{allowAnyAuthenticated: allowAnyAuthenticated}
}

// CanMutate reports whether actorID with actorRole may mutate a resource owned by ownerID.
func (g *AuthorizationGate) CanMutate(actorID int64, actorRole models.UserRole, ownerID int64) bool {
	if actorID <= 0 {
		return false
	}
	if g != nil && g.allowAnyAuthenticated {
		return true
	}
	if models.NormalizeRole(string(actorRole)) == models.RoleAdmin {
		return true
	}
	return ownerID == actorID
}
