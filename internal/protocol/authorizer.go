package protocol

import "github.com/COVESA/graphql-vss-server-libs/internal/permissions"

// Authorizer resolves a bearer token to a permission set. An empty token
// must succeed with an empty (not nil) set, enabling unauthenticated
// introspection; any other failure is an *InvalidTokenError.
type Authorizer interface {
	Authorize(token string) (*permissions.Set, error)
}
