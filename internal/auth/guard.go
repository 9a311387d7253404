package auth

import "github.com/ironlayer/ironlayer/internal/apperror"

// RequireRole enforces RBAC for a request's resolved claims. A service
// identity calling a role-gated endpoint is always rejected — service
// accounts authenticate via API keys/scopes, never via the interactive
// role matrix — regardless of which role string happens to be on the
// token.
func RequireRole(claims Claims, required Role) error {
	if claims.IdentityKind == IdentityService {
		return apperror.New(apperror.KindForbidden, "service identities cannot use role-based authorization")
	}
	if claims.Role == required || claims.Role == RoleAdmin {
		return nil
	}
	return apperror.New(apperror.KindForbidden, "role "+string(claims.Role)+" lacks required role "+string(required))
}

// RequirePermission enforces RBAC by permission rather than exact role.
func RequirePermission(claims Claims, perm Permission) error {
	if claims.IdentityKind == IdentityService {
		return apperror.New(apperror.KindForbidden, "service identities cannot use role-based authorization")
	}
	if !RoleHasPermission(claims.Role, perm) {
		return apperror.New(apperror.KindForbidden, "role "+string(claims.Role)+" lacks permission "+string(perm))
	}
	return nil
}

// APIKeyPrefix identifies a service-account bearer value rather than a
// signed token.
const APIKeyPrefix = "bmkey."

// IsAPIKey reports whether bearer looks like a hashed API key rather than
// a signed token.
func IsAPIKey(bearer string) bool {
	return len(bearer) > len(APIKeyPrefix) && bearer[:len(APIKeyPrefix)] == APIKeyPrefix
}
