// Package shmid derives the per-session namespace id used to build every
// shared object name in the core (§4.1, §6 "Shared object names").
package shmid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// ID computes the short hex shm id for a (uid, sessionName) pair: the
// first 8 hex digits of SHA-256(uid || sessionName). Deterministic and
// collision-tolerant for process-local namespacing, short enough to
// compose into object names under OS length limits (§4.1).
func ID(sessionName string, uid int) string {
	sum := sha256.Sum256(seed(sessionName, uid))
	return hex.EncodeToString(sum[:])[:8]
}

// Uint64 returns a 64-bit integer hash of sessionName alone (the first 8
// bytes, big-endian, of SHA-256(sessionName); no uid is mixed in), used
// as a region-cache key (§4.1).
func Uint64(sessionName string) uint64 {
	sum := sha256.Sum256([]byte(sessionName))
	return binary.BigEndian.Uint64(sum[:8])
}

func seed(sessionName string, uid int) []byte {
	// uid || sessionName, matching the original's
	// std::to_string(geteuid()) + sessionId concatenation.
	return append([]byte(strconv.Itoa(uid)), sessionName...)
}
