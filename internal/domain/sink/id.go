package sink

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// SinkIDLength is the number of hex characters in a sink ID.
const SinkIDLength = 12

// GenerateSinkID returns the first 12 hex characters of a random 128-bit
// UUID. Those characters precede the version nibble, so all 48 bits are
// random.
func GenerateSinkID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate sink ID: %w", err)
	}
	return hex.EncodeToString(u[:SinkIDLength/2]), nil
}
