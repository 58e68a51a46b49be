package model

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// generateID returns prefix-<ts><rand>; the millisecond timestamp leads so ids
// sort by creation time.
func generateID(prefix string) string {
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], uint64(time.Now().UTC().UnixMilli()))
	_, _ = rand.Read(raw[8:])
	return prefix + "-" + hex.EncodeToString(raw[:])
}
