package util

import (
	"strings"

	"github.com/google/uuid"
)

// TempPrefix marks ids minted on the client for entities the store has not
// confirmed yet. NewID never produces it.
const TempPrefix = "temp_"

func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return raw
	}
	return prefix + "_" + raw
}

func NewTempID() string {
	return TempPrefix + uuid.NewString()
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}
