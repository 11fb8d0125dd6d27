// Package sign implements the JAR-style v1 detached-signature scheme:
// a digest manifest, a signature file digesting the manifest, and a
// PKCS#7 signature block over the signature file.
package sign

import (
	"crypto/sha256"
	"encoding/base64"
)

// digestAttr is the attribute name carrying entry digests in both the
// manifest and the signature file.
const digestAttr = "SHA-256-Digest"

// Digest returns the base64-encoded SHA-256 of data. The whole scheme
// runs on this one hash function.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}
