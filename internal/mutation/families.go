package mutation

import (
	"context"

	"taxonomy-graphql/internal/apierrors"
	"taxonomy-graphql/internal/catalog"
)

// family is one operation shape run by Pipeline.run.
type family interface {
	size() int
	request() preloadRequest
	validateAll(d *Descriptor, maps *EntityMaps, limits Limits) *inputErrors
	validateRow(index int, v *rowValidator) []*apierrors.APIError
	apply(ctx context.Context, w *writer, maps *EntityMaps) ([]catalog.Record, error)
}

type createFamily struct {
	inputs []CreateInput
	newID  func() string
}

func (f *createFamily) size() int { return len(f.inputs) }

func (f *createFamily) request() preloadRequest {
	var req preloadRequest
	for _, in := range f.inputs {
		req.orgIDs = append(req.orgIDs, in.OrganizationID)
		req.scopedNames = append(req.scopedNames, nameKey{OrganizationID: in.OrganizationID, Name: in.Name})
		req.childIDs = append(req.childIDs, in.ChildIDs...)
	}
	return req
}

func (f *createFamily) validateAll(d *Descriptor, _ *EntityMaps, limits Limits) *inputErrors {
	inputType := d.InputTypeName(FamilyCreate)
	errs := newInputErrors()

	keys := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		keys[i] = compositeKey(in.OrganizationID, in.Name)
	}
	errs.noDuplicates(keys, inputType, "organizationId", "name")

	if d.HasChildren() {
		for i, in := range f.inputs {
			if in.HasChildIDs {
				errs.childIDs(i, in.ChildIDs, inputType, d.ChildAttribute, limits)
			}
		}
	}
	return errs
}

func (f *createFamily) validateRow(index int, v *rowValidator) []*apierrors.APIError {
	in := f.inputs[index]
	var errs []*apierrors.APIError

	if in.OrganizationID != "" {
		if _, ok := v.maps.Organizations[in.OrganizationID]; !ok {
			errs = append(errs, apierrors.NewNonExistentEntity(index, catalog.Organization, in.OrganizationID))
		} else if err := v.authorizeScope(index, in.OrganizationID, ""); err != nil {
			errs = append(errs, err)
		}
	} else if err := v.authorizeScope(index, "", ""); err != nil {
		errs = append(errs, err)
	}

	if err := v.nameConflict(index, in.OrganizationID, in.Name, ""); err != nil {
		errs = append(errs, err)
	}
	if in.HasChildIDs && v.d.HasChildren() {
		errs = append(errs, v.assignableChildren(index, in.ChildIDs, in.OrganizationID)...)
	}
	return errs
}

func (f *createFamily) apply(ctx context.Context, w *writer, _ *EntityMaps) ([]catalog.Record, error) {
	records := make([]catalog.Record, len(f.inputs))
	var pairs []pairKey
	for i, in := range f.inputs {
		records[i] = catalog.Record{
			ID:             f.newID(),
			Name:           in.Name,
			System:         in.OrganizationID == "",
			OrganizationID: in.OrganizationID,
			Status:         catalog.StatusActive,
			CreatedAt:      w.now,
		}
		if in.HasChildIDs {
			pairs = append(pairs, pairsFor(records[i].ID, in.ChildIDs)...)
		}
	}
	if err := w.insertRecords(ctx, records); err != nil {
		return nil, err
	}
	if err := w.insertPairs(ctx, pairs); err != nil {
		return nil, err
	}
	return records, nil
}

type updateFamily struct {
	inputs []UpdateInput
}

func (f *updateFamily) size() int { return len(f.inputs) }

func (f *updateFamily) request() preloadRequest {
	var req preloadRequest
	for _, in := range f.inputs {
		req.primaryIDs = append(req.primaryIDs, in.ID)
		if in.Name != nil {
			req.names = append(req.names, *in.Name)
		}
		req.childIDs = append(req.childIDs, in.ChildIDs...)
	}
	return req
}

func (f *updateFamily) validateAll(d *Descriptor, maps *EntityMaps, limits Limits) *inputErrors {
	inputType := d.InputTypeName(FamilyUpdate)
	errs := newInputErrors()

	atLeastOne := []string{"name"}
	if d.HasChildren() {
		atLeastOne = append(atLeastOne, d.ChildAttribute)
	}
	for i, in := range f.inputs {
		if in.Name == nil && !(in.HasChildIDs && d.HasChildren()) {
			errs.add(i, apierrors.NewRequiresAtLeastOne(i, inputType, atLeastOne...))
		}
	}

	ids := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		ids[i] = in.ID
	}
	errs.noDuplicates(ids, inputType, "id")

	// Two rows may not end up with the same name in one organization.
	scoped := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		rec, ok := maps.Primary[in.ID]
		if !ok || in.Name == nil {
			continue
		}
		scoped[i] = compositeKey(rec.OrganizationID, *in.Name)
	}
	errs.noDuplicates(scoped, inputType, "organizationId", "name")

	if d.HasChildren() {
		for i, in := range f.inputs {
			if in.HasChildIDs {
				errs.childIDs(i, in.ChildIDs, inputType, d.ChildAttribute, limits)
			}
		}
	}
	return errs
}

func (f *updateFamily) validateRow(index int, v *rowValidator) []*apierrors.APIError {
	in := f.inputs[index]
	rec, err := v.primary(index, in.ID)
	if err != nil {
		return []*apierrors.APIError{err}
	}

	var errs []*apierrors.APIError
	if err := v.authorizeRecord(index, rec); err != nil {
		errs = append(errs, err)
	}
	if in.Name != nil {
		if err := v.nameConflict(index, rec.OrganizationID, *in.Name, rec.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if in.HasChildIDs && v.d.HasChildren() {
		errs = append(errs, v.assignableChildren(index, in.ChildIDs, rec.OrganizationID)...)
	}
	return errs
}

func (f *updateFamily) apply(ctx context.Context, w *writer, maps *EntityMaps) ([]catalog.Record, error) {
	records := make([]catalog.Record, len(f.inputs))
	names := map[string]string{}
	var (
		renamed  []string
		replaced []string
		pairs    []pairKey
	)
	for i, in := range f.inputs {
		rec := maps.Primary[in.ID]
		if in.Name != nil {
			rec.Name = *in.Name
			names[rec.ID] = rec.Name
			renamed = append(renamed, rec.ID)
		}
		if in.HasChildIDs && w.d.HasChildren() {
			replaced = append(replaced, rec.ID)
			pairs = append(pairs, pairsFor(rec.ID, in.ChildIDs)...)
		}
		records[i] = rec
	}

	if err := w.rename(ctx, names, renamed); err != nil {
		return nil, err
	}
	if err := w.clearChildren(ctx, replaced); err != nil {
		return nil, err
	}
	if err := w.insertPairs(ctx, pairs); err != nil {
		return nil, err
	}
	return records, nil
}

type deleteFamily struct {
	inputs []DeleteInput
}

func (f *deleteFamily) size() int { return len(f.inputs) }

func (f *deleteFamily) request() preloadRequest {
	var req preloadRequest
	for _, in := range f.inputs {
		req.primaryIDs = append(req.primaryIDs, in.ID)
	}
	return req
}

func (f *deleteFamily) validateAll(d *Descriptor, _ *EntityMaps, _ Limits) *inputErrors {
	errs := newInputErrors()
	ids := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		ids[i] = in.ID
	}
	errs.noDuplicates(ids, d.InputTypeName(FamilyDelete), "id")
	return errs
}

// validateRow reports an already inactive record as nonexistent, so a
// repeated delete fails without changing state.
func (f *deleteFamily) validateRow(index int, v *rowValidator) []*apierrors.APIError {
	rec, err := v.primary(index, f.inputs[index].ID)
	if err != nil {
		return []*apierrors.APIError{err}
	}
	if err := v.authorizeRecord(index, rec); err != nil {
		return []*apierrors.APIError{err}
	}
	return nil
}

func (f *deleteFamily) apply(ctx context.Context, w *writer, maps *EntityMaps) ([]catalog.Record, error) {
	records := make([]catalog.Record, len(f.inputs))
	ids := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		rec := maps.Primary[in.ID]
		rec.Status = catalog.StatusInactive
		records[i] = rec
		ids[i] = rec.ID
	}
	if err := w.softDelete(ctx, ids); err != nil {
		return nil, err
	}
	return records, nil
}

// relationFamily serves AddRelation and RemoveRelation.
type relationFamily struct {
	inputs []RelationInput
	remove bool
}

func (f *relationFamily) size() int { return len(f.inputs) }

func (f *relationFamily) kind() Family {
	if f.remove {
		return FamilyRemoveRelation
	}
	return FamilyAddRelation
}

func (f *relationFamily) request() preloadRequest {
	var req preloadRequest
	for _, in := range f.inputs {
		req.primaryIDs = append(req.primaryIDs, in.ParentID)
		req.pairParents = append(req.pairParents, in.ParentID)
		req.childIDs = append(req.childIDs, in.ChildIDs...)
	}
	return req
}

func (f *relationFamily) validateAll(d *Descriptor, _ *EntityMaps, limits Limits) *inputErrors {
	inputType := d.InputTypeName(f.kind())
	errs := newInputErrors()

	parents := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		parents[i] = in.ParentID
	}
	errs.noDuplicates(parents, inputType, d.Entity.FieldName()+"Id")

	for i, in := range f.inputs {
		errs.childIDs(i, in.ChildIDs, inputType, d.ChildAttribute, limits)
	}
	return errs
}

func (f *relationFamily) validateRow(index int, v *rowValidator) []*apierrors.APIError {
	in := f.inputs[index]
	parent, err := v.primary(index, in.ParentID)
	if err != nil {
		return []*apierrors.APIError{err}
	}

	var errs []*apierrors.APIError
	if err := v.authorizeRecord(index, parent); err != nil {
		errs = append(errs, err)
	}

	children, missing := v.existingChildren(index, in.ChildIDs)
	errs = append(errs, missing...)
	if !f.remove {
		errs = append(errs, v.childrenInOrg(index, children, parent.OrganizationID)...)
	}

	for _, child := range children {
		_, attached := v.maps.Pairs[pairKey{ParentID: parent.ID, ChildID: child.ID}]
		switch {
		case attached && !f.remove:
			errs = append(errs, apierrors.NewExistentChild(index, v.d.Child.Name, child.ID, v.d.Entity.Name, parent.ID))
		case !attached && f.remove:
			errs = append(errs, apierrors.NewNonExistentChild(index, v.d.Child.Name, child.ID, v.d.Entity.Name, parent.ID))
		}
	}
	return errs
}

func (f *relationFamily) apply(ctx context.Context, w *writer, maps *EntityMaps) ([]catalog.Record, error) {
	records := make([]catalog.Record, len(f.inputs))
	var pairs []pairKey
	for i, in := range f.inputs {
		records[i] = maps.Primary[in.ParentID]
		pairs = append(pairs, pairsFor(in.ParentID, in.ChildIDs)...)
	}
	var err error
	if f.remove {
		err = w.deletePairs(ctx, pairs)
	} else {
		err = w.insertPairs(ctx, pairs)
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}
