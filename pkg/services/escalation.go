package services

import (
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/auth"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
)

// EscalationTier is the authorization level required to resolve a conflict
type EscalationTier string

// Escalation tiers
const (
	TierStandard  EscalationTier = "standard"
	TierElevated  EscalationTier = "elevated"
	TierEmergency EscalationTier = "emergency"
)

// EscalationDecision is the outcome of one authorization check
type EscalationDecision struct {
	Tier         EscalationTier
	Allowed      bool
	RequiredRole auth.Role
}

// EscalationAuthorizer decides the escalation tier for a resolution attempt
// and whether the caller is authorized. It is a pure function over its
// inputs: it keeps no memory of prior decisions and must be re-evaluated on
// every attempt.
type EscalationAuthorizer struct{}

// NewEscalationAuthorizer creates an escalation authorizer
func NewEscalationAuthorizer() *EscalationAuthorizer {
	return &EscalationAuthorizer{}
}

// Authorize evaluates, in order: an emergency request escalates to the
// emergency tier and is admin-only; otherwise critical severity or an admin
// caller escalates to elevated; everything else is standard. Independently of
// tier, a coordinator can never resolve a critical conflict without an
// emergency request.
func (a *EscalationAuthorizer) Authorize(severity models.ConflictSeverity, callerRole auth.Role, emergencyRequested bool) EscalationDecision {
	decision := EscalationDecision{Allowed: true, RequiredRole: auth.RoleCoordinator}

	switch {
	case emergencyRequested:
		decision.Tier = TierEmergency
		decision.RequiredRole = auth.RoleAdmin
		decision.Allowed = callerRole == auth.RoleAdmin
	case severity == models.SeverityCritical || callerRole == auth.RoleAdmin:
		decision.Tier = TierElevated
	default:
		decision.Tier = TierStandard
	}

	// Critical conflicts require supervisor or admin
	if severity == models.SeverityCritical && callerRole == auth.RoleCoordinator && !emergencyRequested {
		decision.Allowed = false
		decision.RequiredRole = auth.RoleSupervisor
	}

	return decision
}
