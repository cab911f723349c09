package shared

import (
	"strings"

	"github.com/google/uuid"
)

// NewNumber generates a reference number like "PAY-1A2B3C4D5E".
// Uniqueness is backed by the unique constraint on the number column.
func NewNumber(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + strings.ToUpper(raw[:10])
}
