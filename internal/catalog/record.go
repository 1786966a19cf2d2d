package catalog

import (
	"database/sql"
	"fmt"
	"time"
)

// Status is the stored lifecycle state of a record.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// APIValue returns the enum value exposed by the API.
func (s Status) APIValue() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusInactive:
		return "INACTIVE"
	default:
		return string(s)
	}
}

// Record is one row of a taxonomy table. Relations are not part of the record;
// they are loaded through explicit queries.
type Record struct {
	ID             string
	Name           string
	System         bool
	OrganizationID string
	Status         Status
	CreatedAt      time.Time
}

// Active reports whether the record has not been soft-deleted.
func (r Record) Active() bool {
	return r.Status == StatusActive
}

// Node projects the record onto the API field names.
func (r Record) Node() map[string]interface{} {
	node := map[string]interface{}{
		"id":     r.ID,
		"name":   r.Name,
		"system": r.System,
		"status": r.Status.APIValue(),
	}
	if r.OrganizationID != "" {
		node["organizationId"] = r.OrganizationID
	} else {
		node["organizationId"] = nil
	}
	if !r.CreatedAt.IsZero() {
		node["createdAt"] = r.CreatedAt
	}
	return node
}

// RecordColumns returns the unqualified columns read by ScanRecord, in order.
func (e *Entity) RecordColumns() []string {
	cols := []string{e.PK().Column, e.NameColumn}
	if e.SystemColumn != "" {
		cols = append(cols, e.SystemColumn)
	}
	if e.OrganizationColumn != "" {
		cols = append(cols, e.OrganizationColumn)
	}
	cols = append(cols, e.StatusColumn)
	if e.CreatedAtColumn != "" {
		cols = append(cols, e.CreatedAtColumn)
	}
	return cols
}

// ScanRecord reads a row selected with RecordColumns.
func (e *Entity) ScanRecord(scan func(dest ...interface{}) error) (Record, error) {
	var (
		rec       Record
		system    sql.NullBool
		orgID     sql.NullString
		status    string
		createdAt sql.NullTime
	)
	dest := []interface{}{&rec.ID, &rec.Name}
	if e.SystemColumn != "" {
		dest = append(dest, &system)
	}
	if e.OrganizationColumn != "" {
		dest = append(dest, &orgID)
	}
	dest = append(dest, &status)
	if e.CreatedAtColumn != "" {
		dest = append(dest, &createdAt)
	}
	if err := scan(dest...); err != nil {
		return Record{}, fmt.Errorf("scan %s: %w", e.Name, err)
	}
	rec.System = system.Valid && system.Bool
	if orgID.Valid {
		rec.OrganizationID = orgID.String
	}
	rec.Status = Status(status)
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time
	}
	return rec, nil
}
