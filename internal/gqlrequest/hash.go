package gqlrequest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// operationHash fingerprints a document and the selected operation name.
// Whitespace runs are collapsed so formatting differences hash alike.
func operationHash(query, operationName string) string {
	normalized := strings.Join(strings.Fields(query), " ")
	hash := sha256.New()
	for _, part := range []string{normalized, operationName} {
		_, _ = fmt.Fprintf(hash, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(hash.Sum(nil))
}
