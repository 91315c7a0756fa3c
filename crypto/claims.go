package crypto

import "github.com/golang-jwt/jwt/v5"

// ActorClaims are the token claims the audit service reads. The subject is
// the actor id stamped on audit records, org_id the tenant.
type ActorClaims struct {
	jwt.RegisteredClaims
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Scope     string   `json:"scope,omitempty"`
	OrgID     string   `json:"org_id,omitempty"`
	ActorKind string   `json:"actor_type,omitempty"`
	SessionID string   `json:"sid,omitempty"`
}

// ActorType defaults to "user" for tokens issued without the claim.
func (c *ActorClaims) ActorType() string {
	if c.ActorKind == "" {
		return "user"
	}
	return c.ActorKind
}

func (c *ActorClaims) RoleList() []string {
	if c.Roles == nil {
		return []string{}
	}
	return c.Roles
}
