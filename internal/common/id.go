package common

import (
	"github.com/google/uuid"
)

// NewRunID generates the claim token for one extraction run
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}
