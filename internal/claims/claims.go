// Package claims holds the typed token payload produced by the key-set
// decoder and the role extraction rules applied to it.
package claims

import (
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthorityPrefix is prepended to every role when it is turned into an authority.
const AuthorityPrefix = "ROLE_"

// Access is a role container as found under realm_access and under each
// client entry of resource_access. A nil Roles slice means the "roles" key
// was absent; an empty non-nil slice means it was present and empty.
type Access struct {
	Roles []string `json:"roles"`
}

// Claims is the decoded payload of a verified token.
type Claims struct {
	jwt.RegisteredClaims
	Email             string            `json:"email,omitempty"`
	PreferredUsername string            `json:"preferred_username,omitempty"`
	RealmAccess       *Access           `json:"realm_access,omitempty"`
	ResourceAccess    map[string]Access `json:"resource_access,omitempty"`
}

// Identity is the caller identity derived from verified claims.
type Identity struct {
	Subject  string
	Email    string // empty when the token carries no email claim
	Username string
	Roles    []string
}

// IdentityFrom builds the identity that is propagated to backends.
func IdentityFrom(c *Claims) Identity {
	if c == nil {
		return Identity{}
	}
	return Identity{
		Subject:  c.Subject,
		Email:    c.Email,
		Username: c.PreferredUsername,
		Roles:    HeaderRoles(c),
	}
}

func (c *Claims) realmRoles() ([]string, bool) {
	if c.RealmAccess == nil || c.RealmAccess.Roles == nil {
		return nil, false
	}
	return c.RealmAccess.Roles, true
}

// HeaderRoles returns the realm roles verbatim, in token order, for header
// propagation. Client roles are never consulted here.
func HeaderRoles(c *Claims) []string {
	if c == nil {
		return []string{}
	}
	if roles, ok := c.realmRoles(); ok {
		out := make([]string, len(roles))
		copy(out, roles)
		return out
	}
	return []string{}
}

// Authorities maps claims to granted authorities. Realm roles win; only when
// the token has no realm roles are the roles of every resource_access client
// flattened, clients visited in id order. Each role becomes ROLE_<UPPER>.
func Authorities(c *Claims) []string {
	if c == nil {
		return []string{}
	}
	if roles, ok := c.realmRoles(); ok {
		return toAuthorities(roles)
	}

	clients := make([]string, 0, len(c.ResourceAccess))
	for id, access := range c.ResourceAccess {
		if access.Roles != nil {
			clients = append(clients, id)
		}
	}
	sort.Strings(clients)

	var roles []string
	for _, id := range clients {
		roles = append(roles, c.ResourceAccess[id].Roles...)
	}
	return toAuthorities(roles)
}

func toAuthorities(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, AuthorityPrefix+strings.ToUpper(role))
	}
	return out
}

// HasAnyAuthority reports whether granted contains at least one of required.
// An empty required list is always satisfied.
func HasAnyAuthority(granted, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		for _, g := range granted {
			if g == r {
				return true
			}
		}
	}
	return false
}
