package mutation

import (
	"strings"

	"taxonomy-graphql/internal/apierrors"
	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/permissions"
)

// Limits bounds the top-level input array and every nested id array.
type Limits struct {
	MinInputArraySize int
	MaxInputArraySize int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MinInputArraySize: 1, MaxInputArraySize: 50}
}

func (l Limits) normalized() Limits {
	def := DefaultLimits()
	if l.MinInputArraySize <= 0 {
		l.MinInputArraySize = def.MinInputArraySize
	}
	if l.MaxInputArraySize <= 0 {
		l.MaxInputArraySize = def.MaxInputArraySize
	}
	if l.MaxInputArraySize < l.MinInputArraySize {
		l.MaxInputArraySize = l.MinInputArraySize
	}
	return l
}

// validateInputLength fails the whole request; nothing else runs.
func (l Limits) validateInputLength(inputType string, n int) *apierrors.APIError {
	if n < l.MinInputArraySize {
		return apierrors.NewArrayMinLength(nil, inputType, "input", l.MinInputArraySize)
	}
	if n > l.MaxInputArraySize {
		return apierrors.NewArrayMaxLength(nil, inputType, "input", l.MaxInputArraySize)
	}
	return nil
}

// inputErrors collects errors of the validation over all inputs and the
// indexes that must skip per-row validation.
type inputErrors struct {
	errs    []*apierrors.APIError
	invalid map[int]bool
}

func newInputErrors() *inputErrors {
	return &inputErrors{invalid: map[int]bool{}}
}

func (e *inputErrors) add(index int, errs ...*apierrors.APIError) {
	for _, err := range errs {
		if err == nil {
			continue
		}
		e.errs = append(e.errs, err)
		e.invalid[index] = true
	}
}

// duplicateIndexes returns the indexes of every later occurrence of a key.
// Empty keys never collide.
func duplicateIndexes(keys []string) []int {
	seen := make(map[string]struct{}, len(keys))
	var dups []int
	for i, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			dups = append(dups, i)
			continue
		}
		seen[key] = struct{}{}
	}
	return dups
}

func (e *inputErrors) noDuplicates(keys []string, entity string, variables ...string) {
	for _, i := range duplicateIndexes(keys) {
		e.add(i, apierrors.NewDuplicateAttributeValues(i, entity, variables...))
	}
}

// childIDs checks a nested id array's length and uniqueness.
func (e *inputErrors) childIDs(index int, ids []string, entity, attribute string, limits Limits) {
	i := index
	switch {
	case len(ids) < limits.MinInputArraySize:
		e.add(index, apierrors.NewArrayMinLength(&i, entity, attribute, limits.MinInputArraySize))
	case len(ids) > limits.MaxInputArraySize:
		e.add(index, apierrors.NewArrayMaxLength(&i, entity, attribute, limits.MaxInputArraySize))
	}
	if len(duplicateIndexes(ids)) > 0 {
		e.add(index, apierrors.NewDuplicateAttributeValues(index, entity, attribute))
	}
}

func compositeKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// rowValidator holds what every per-row check reads.
type rowValidator struct {
	d       *Descriptor
	maps    *EntityMaps
	checker permissions.Checker
	perm    permissions.Permission
}

// authorizeScope requires perm in orgID, or admin for system scope.
func (v *rowValidator) authorizeScope(index int, orgID, entityName string) *apierrors.APIError {
	if orgID == "" {
		if v.checker.IsAdmin() {
			return nil
		}
	} else if v.checker.IsAllowed([]string{orgID}, v.perm) {
		return nil
	}
	i := index
	return apierrors.NewUnauthorized(&i, v.d.Entity.Name, entityName, string(v.perm))
}

// authorizeRecord authorizes a change to an existing record.
func (v *rowValidator) authorizeRecord(index int, rec catalog.Record) *apierrors.APIError {
	orgID := rec.OrganizationID
	if rec.System {
		orgID = ""
	}
	return v.authorizeScope(index, orgID, rec.ID)
}

// primary returns the ACTIVE record for id or a NonExistentEntity error.
func (v *rowValidator) primary(index int, id string) (catalog.Record, *apierrors.APIError) {
	rec, ok := v.maps.Primary[id]
	if !ok {
		return catalog.Record{}, apierrors.NewNonExistentEntity(index, v.d.Entity.Name, id)
	}
	return rec, nil
}

func (v *rowValidator) nameConflict(index int, orgID, name, selfID string) *apierrors.APIError {
	existing, ok := v.maps.ConflictingNames[nameKey{OrganizationID: orgID, Name: name}]
	if !ok || existing.ID == selfID {
		return nil
	}
	return apierrors.NewExistentEntityAttribute(index, v.d.Entity.Name, existing.ID, "name", name)
}

// existingChildren flags missing children and returns the ones found.
func (v *rowValidator) existingChildren(index int, ids []string) ([]catalog.Record, []*apierrors.APIError) {
	var (
		found []catalog.Record
		errs  []*apierrors.APIError
	)
	for _, id := range ids {
		child, ok := v.maps.Children[id]
		if !ok {
			errs = append(errs, apierrors.NewNonExistentEntity(index, v.d.Child.Name, id))
			continue
		}
		found = append(found, child)
	}
	return found, errs
}

// childrenInOrg flags children owned by another organization. System
// children and system parents accept any child.
func (v *rowValidator) childrenInOrg(index int, children []catalog.Record, orgID string) []*apierrors.APIError {
	if orgID == "" {
		return nil
	}
	var errs []*apierrors.APIError
	for _, child := range children {
		if child.System || child.OrganizationID == orgID {
			continue
		}
		errs = append(errs, apierrors.NewNonExistentChild(index, v.d.Child.Name, child.ID, catalog.Organization, orgID))
	}
	return errs
}

// assignableChildren runs both child checks.
func (v *rowValidator) assignableChildren(index int, ids []string, orgID string) []*apierrors.APIError {
	children, errs := v.existingChildren(index, ids)
	return append(errs, v.childrenInOrg(index, children, orgID)...)
}
