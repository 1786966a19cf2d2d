// Package cursor encodes and decodes connection cursors.
// Cursors are opaque base64-encoded JSON payloads carrying the ordering context
// and the string-coerced sort values (primary key last) of a row position.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCursor is wrapped by every decode and validation failure.
var ErrInvalidCursor = errors.New("invalid cursor")

const payloadVersion = 2

type payloadV2 struct {
	Version    int      `json:"v"`
	TypeName   string   `json:"t"`
	OrderByKey string   `json:"k"`
	Directions []string `json:"d"`
	Values     []string `json:"vals"`
}

// Position is a decoded cursor.
type Position struct {
	TypeName   string
	OrderByKey string
	Directions []string
	Values     []string
}

// PrimaryKey returns the tie-break value, which is always last.
func (p Position) PrimaryKey() string {
	if len(p.Values) == 0 {
		return ""
	}
	return p.Values[len(p.Values)-1]
}

// Encode builds an opaque cursor from type name, orderBy key, directions, and
// column values. Values are string-coerced so equal rows always yield equal
// cursors.
func Encode(typeName, orderByKey string, directions []string, values ...interface{}) string {
	normalizedDirections := make([]string, len(directions))
	for i, direction := range directions {
		normalizedDirections[i] = strings.ToUpper(direction)
	}
	stringValues := make([]string, 0, len(values))
	for _, v := range values {
		stringValues = append(stringValues, coerceToString(v))
	}
	data, err := json.Marshal(payloadV2{
		Version:    payloadVersion,
		TypeName:   typeName,
		OrderByKey: orderByKey,
		Directions: normalizedDirections,
		Values:     stringValues,
	})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// Decode parses a cursor produced by Encode.
func Decode(raw string) (Position, error) {
	data, err := base64.URLEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var payload payloadV2
	if err := json.Unmarshal(data, &payload); err != nil || payload.Version != payloadVersion {
		return Position{}, fmt.Errorf("%w: unsupported cursor format", ErrInvalidCursor)
	}
	if payload.TypeName == "" || payload.OrderByKey == "" {
		return Position{}, fmt.Errorf("%w: missing type or orderBy key", ErrInvalidCursor)
	}
	if len(payload.Directions) == 0 {
		return Position{}, fmt.Errorf("%w: missing directions", ErrInvalidCursor)
	}
	for i, direction := range payload.Directions {
		direction = strings.ToUpper(direction)
		if direction != "ASC" && direction != "DESC" {
			return Position{}, fmt.Errorf("%w: direction %d must be ASC or DESC", ErrInvalidCursor, i)
		}
		payload.Directions[i] = direction
	}
	if len(payload.Values) != len(payload.Directions) {
		return Position{}, fmt.Errorf("%w: value count mismatch for orderBy columns", ErrInvalidCursor)
	}
	return Position{
		TypeName:   payload.TypeName,
		OrderByKey: payload.OrderByKey,
		Directions: payload.Directions,
		Values:     payload.Values,
	}, nil
}

// Validate confirms the position was minted for the same query context.
func (p Position) Validate(typeName, orderByKey string, directions []string) error {
	if p.TypeName != typeName {
		return fmt.Errorf("%w: type mismatch: expected %s, got %s", ErrInvalidCursor, typeName, p.TypeName)
	}
	if p.OrderByKey != orderByKey {
		return fmt.Errorf("%w: orderBy mismatch: expected %s, got %s", ErrInvalidCursor, orderByKey, p.OrderByKey)
	}
	if len(p.Directions) != len(directions) {
		return fmt.Errorf("%w: direction count mismatch: expected %d, got %d", ErrInvalidCursor, len(directions), len(p.Directions))
	}
	for i := range directions {
		if !strings.EqualFold(p.Directions[i], directions[i]) {
			return fmt.Errorf("%w: direction mismatch at position %d", ErrInvalidCursor, i)
		}
	}
	return nil
}

// DecodeFor decodes raw and validates it against the expected context.
func DecodeFor(raw, typeName, orderByKey string, directions []string) (Position, error) {
	pos, err := Decode(raw)
	if err != nil {
		return Position{}, err
	}
	if err := pos.Validate(typeName, orderByKey, directions); err != nil {
		return Position{}, err
	}
	return pos, nil
}

func coerceToString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case bool:
		return fmt.Sprintf("%t", val)
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
