// Package common contains shared constants and sentinel errors used across
// the authentication service components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// DefaultRole is the role claim issued to every regular user.
const DefaultRole = "User"

// AdminRole is the role claim allowed to call administrative operations.
const AdminRole = "Admin"
