package auth

import "github.com/COVESA/graphql-vss-server-libs/internal/permissions"

// AllowAllAuthorizer ignores the token and returns a handle containing
// every permission in the known-permissions table. Intended for
// development only; never construct this from production configuration.
type AllowAllAuthorizer struct {
	all *permissions.Set
}

// NewAllowAllAuthorizer builds an AllowAllAuthorizer granting every key in
// known. The same handle is returned from every Authorize call (P1).
func NewAllowAllAuthorizer(known KnownPermissions) *AllowAllAuthorizer {
	keys := make([]permissions.Key, 0, len(known))
	for _, k := range known {
		keys = append(keys, k)
	}
	return &AllowAllAuthorizer{all: permissions.NewSet(keys...)}
}

// Authorize implements protocol.Authorizer.
func (a *AllowAllAuthorizer) Authorize(string) (*permissions.Set, error) {
	return a.all, nil
}
