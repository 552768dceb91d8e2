// Package access holds role checks and the ownership rules for patient documents.
package access

import "intellimed/pkg/domain"

// Require accepts the principal when it holds role, or when it is an admin.
func Require(p domain.Principal, role domain.Role) (domain.Principal, error) {
	if p.Role == domain.RoleAdmin || p.Role == role {
		return p, nil
	}
	return domain.Principal{}, &domain.ForbiddenError{Required: role, Actual: p.Role}
}
