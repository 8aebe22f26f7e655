package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a fresh random identifier for mutable entities
// (cases, evidence, research runs, findings).
func NewID() string {
	return uuid.NewString()
}

// HashID returns a deterministic 16-character identifier derived from the
// given parts. Used where idempotence matters: writing the same content
// twice must produce the same ID.
func HashID(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{':'})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ChunkID derives the deterministic identifier for a chunk from its
// evidence, type, position, and text. Re-chunking identical evidence
// yields identical IDs, which makes dual-store writes idempotent.
func ChunkID(evidenceID string, chunkType ChunkType, position int, text string) string {
	return HashID(evidenceID, string(chunkType), fmt.Sprintf("%d", position), text)
}
