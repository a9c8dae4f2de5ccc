package workq

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestFunc maps an item's bytes to its fixed-width identity string.
// Implementations must be pure: equal bytes, equal digest. The digest is
// used as the lease key suffix, so two items with identical bytes are
// indistinguishable to the queue.
type DigestFunc func(item []byte) string

// SHA224Digest is the default DigestFunc: the SHA-224 sum of the item
// rendered as a 56-character hex string.
func SHA224Digest(item []byte) string {
	sum := sha256.Sum224(item)
	return hex.EncodeToString(sum[:])
}
