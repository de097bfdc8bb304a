package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// Digest computes the hex-encoded SHA-256 of an image body. Stored images
// are addressed by this value, so identical pages share one object.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s looks like a value returned by Digest.
func Valid(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ObjectKey fans digests out over two-character prefixes to keep
// directories small on file-backed buckets.
func ObjectKey(prefix, digest string) string {
	digest = strings.ToLower(digest)
	if len(digest) < 2 {
		return path.Join(prefix, digest)
	}
	return path.Join(prefix, digest[:2], digest)
}
