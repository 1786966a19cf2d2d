// Package permissions models what a caller may do in each organization.
//
// A Checker is resolved once per request from verified token claims and is
// consulted by the mutation pipeline for every input row.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Permission identifies a capability granted per organization.
type Permission string

// Permission names understood by the taxonomy API. Categories and
// subcategories share the subject permissions.
const (
	CreateSubjects Permission = "create_subjects_20227"
	EditSubjects   Permission = "edit_subjects_20337"
	DeleteSubjects Permission = "delete_subjects_20447"
	CreatePrograms Permission = "create_program_20221"
	EditPrograms   Permission = "edit_program_20331"
	DeletePrograms Permission = "delete_program_20441"
)

// Default claim names.
const (
	DefaultAdminClaim          = "admin"
	DefaultOrgPermissionsClaim = "org_permissions"
)

// Checker answers authorization questions for one caller.
type Checker interface {
	// IsAdmin reports unrestricted capability, required for system records.
	IsAdmin() bool
	// IsAllowed reports whether the caller holds p in every organization.
	IsAllowed(orgIDs []string, p Permission) bool
	// Subject identifies the caller for logs.
	Subject() string
}

// Set is a Checker backed by an in-memory permission table.
type Set struct {
	subject string
	admin   bool
	byOrg   map[string]map[Permission]struct{}
}

// NewSet builds a Set from an organization → permission table.
func NewSet(subject string, admin bool, byOrg map[string][]Permission) *Set {
	s := &Set{subject: subject, admin: admin, byOrg: make(map[string]map[Permission]struct{}, len(byOrg))}
	for orgID, names := range byOrg {
		perms := make(map[Permission]struct{}, len(names))
		for _, n := range names {
			perms[n] = struct{}{}
		}
		s.byOrg[orgID] = perms
	}
	return s
}

func (s *Set) IsAdmin() bool {
	return s.admin
}

func (s *Set) Subject() string {
	return s.subject
}

func (s *Set) IsAllowed(orgIDs []string, p Permission) bool {
	if s.admin {
		return true
	}
	if len(orgIDs) == 0 {
		return false
	}
	for _, orgID := range orgIDs {
		if _, ok := s.byOrg[orgID][p]; !ok {
			return false
		}
	}
	return true
}

// Organizations returns the organization IDs with at least one permission.
func (s *Set) Organizations() []string {
	out := make([]string, 0, len(s.byOrg))
	for orgID, perms := range s.byOrg {
		if len(perms) > 0 {
			out = append(out, orgID)
		}
	}
	sort.Strings(out)
	return out
}

// ClaimError reports a malformed permission claim.
type ClaimError struct {
	Claim  string
	Reason string
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("claim %s %s", e.Claim, e.Reason)
}

// ClaimName returns the offending claim of a ClaimError, or "".
func ClaimName(err error) string {
	var ce *ClaimError
	if errors.As(err, &ce) {
		return ce.Claim
	}
	return ""
}

// FromClaims builds a Set from verified JWT claims. The admin claim is a
// boolean; the organization claim maps organization IDs to permission names.
// Missing claims grant nothing.
func FromClaims(subject string, claims map[string]interface{}, adminClaim, orgClaim string) (*Set, error) {
	if adminClaim == "" {
		adminClaim = DefaultAdminClaim
	}
	if orgClaim == "" {
		orgClaim = DefaultOrgPermissionsClaim
	}

	admin := false
	if raw, ok := claims[adminClaim]; ok && raw != nil {
		b, ok := raw.(bool)
		if !ok {
			return nil, &ClaimError{Claim: adminClaim, Reason: "must be a boolean"}
		}
		admin = b
	}

	byOrg := map[string][]Permission{}
	if raw, ok := claims[orgClaim]; ok && raw != nil {
		table, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &ClaimError{Claim: orgClaim, Reason: "must be an object"}
		}
		for orgID, rawNames := range table {
			list, ok := rawNames.([]interface{})
			if !ok {
				return nil, &ClaimError{Claim: orgClaim, Reason: fmt.Sprintf("entry %s must be an array", orgID)}
			}
			names := make([]Permission, 0, len(list))
			for _, item := range list {
				name, ok := item.(string)
				if !ok {
					return nil, &ClaimError{Claim: orgClaim, Reason: fmt.Sprintf("entry %s must contain strings", orgID)}
				}
				names = append(names, Permission(name))
			}
			byOrg[orgID] = names
		}
	}
	return NewSet(subject, admin, byOrg), nil
}

type checkerContextKey struct{}

// WithChecker attaches a Checker to ctx.
func WithChecker(ctx context.Context, c Checker) context.Context {
	return context.WithValue(ctx, checkerContextKey{}, c)
}

// FromContext returns the request's Checker.
func FromContext(ctx context.Context) (Checker, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(checkerContextKey{}).(Checker)
	return c, ok && c != nil
}
