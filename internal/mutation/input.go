package mutation

import "strings"

// CreateInput creates one record. An empty OrganizationID creates a system
// record, which only admins may do.
type CreateInput struct {
	OrganizationID string
	Name           string
	ChildIDs       []string
	HasChildIDs    bool
}

// UpdateInput renames a record and/or replaces its children.
type UpdateInput struct {
	ID          string
	Name        *string
	ChildIDs    []string
	HasChildIDs bool
}

// DeleteInput soft-deletes a record.
type DeleteInput struct {
	ID string
}

// RelationInput adds or removes children of one parent.
type RelationInput struct {
	ParentID string
	ChildIDs []string
}

func normalizeCreate(in []CreateInput) []CreateInput {
	out := make([]CreateInput, len(in))
	for i, row := range in {
		row.OrganizationID = strings.TrimSpace(row.OrganizationID)
		row.Name = strings.TrimSpace(row.Name)
		row.ChildIDs = trimAll(row.ChildIDs)
		out[i] = row
	}
	return out
}

func normalizeUpdate(in []UpdateInput) []UpdateInput {
	out := make([]UpdateInput, len(in))
	for i, row := range in {
		row.ID = strings.TrimSpace(row.ID)
		if row.Name != nil {
			name := strings.TrimSpace(*row.Name)
			row.Name = &name
		}
		row.ChildIDs = trimAll(row.ChildIDs)
		out[i] = row
	}
	return out
}

func normalizeDelete(in []DeleteInput) []DeleteInput {
	out := make([]DeleteInput, len(in))
	for i, row := range in {
		out[i] = DeleteInput{ID: strings.TrimSpace(row.ID)}
	}
	return out
}

func normalizeRelation(in []RelationInput) []RelationInput {
	out := make([]RelationInput, len(in))
	for i, row := range in {
		out[i] = RelationInput{
			ParentID: strings.TrimSpace(row.ParentID),
			ChildIDs: trimAll(row.ChildIDs),
		}
	}
	return out
}

func trimAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
