package assist

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/leasedata/goldenrec/internal/model"
	"github.com/leasedata/goldenrec/internal/normalize"
)

// fingerprintVersion invalidates every cached answer when the prompt or the
// term cleanup changes meaning.
const fingerprintVersion = "v1"

// Fingerprint identifies a field request by its content. The term string is
// cleaned first so cosmetic variants of the same text share a cache entry,
// and record identity is deliberately excluded so identical text hits the
// cache across records.
func Fingerprint(field model.FieldKind, rawTerm string) string {
	h := sha256.New()
	h.Write([]byte(fingerprintVersion))
	h.Write([]byte{0})
	h.Write([]byte(field))
	h.Write([]byte{0})
	h.Write([]byte(normalize.CleanTermString(rawTerm)))
	return "assist:" + hex.EncodeToString(h.Sum(nil))
}
