package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
)

// Fingerprint derives the deterministic cache key for a submission.
// Two byte-identical (challenge version, environment, payload) inputs must
// always hash to the same value; that determinism is what makes cached
// results reusable and single-flight claims safe.
//
// Each field is length-prefixed before hashing so no concatenation of
// fields can collide with another field split.
func Fingerprint(challengeID string, version int64, environment, code string) string {
	h := sha256.New()
	writeField(h, challengeID)
	writeField(h, strconv.FormatInt(version, 10))
	writeField(h, canonicalEnvironment(environment))
	writeField(h, code)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h interface{ Write([]byte) (int, error) }, field string) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(field)))
	_, _ = h.Write(length[:])
	_, _ = h.Write([]byte(field))
}

// canonicalEnvironment normalizes the declared environment so that
// cosmetic differences ("Python3 " vs "python3") do not defeat caching.
func canonicalEnvironment(environment string) string {
	return strings.ToLower(strings.TrimSpace(environment))
}
