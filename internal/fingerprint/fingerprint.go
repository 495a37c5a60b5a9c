// Package fingerprint derives content-addressable keys for uploaded audio.
// Identical content always yields the same key, regardless of file name or
// uploader, which is what makes the transcription cache shareable.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// SumBytes returns the hex-encoded SHA-256 digest of b.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Sum consumes r and returns the hex-encoded SHA-256 digest of its content.
func Sum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
