// Package identifier implements the Base64URL identifier codec used at the
// API boundary for every AAS/Submodel/ConceptDescription/Descriptor id.
package identifier

import (
	"encoding/base64"

	"github.com/hadijannat/titan-aas/internal/apierr"
)

// MaxLength is the largest identifier this system accepts, in UTF-8 bytes.
const MaxLength = 4096

// Encode returns the unpadded Base64URL encoding of id's UTF-8 bytes.
func Encode(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// Decode reverses Encode. It fails with InvalidIdentifierEncoding if
// encoded contains characters outside the Base64URL alphabet, has a length
// that cannot correspond to any byte string, or decodes to an identifier
// longer than MaxLength.
func Decode(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", apierr.InvalidIdentifierEncoding(err.Error())
	}
	if len(raw) > MaxLength {
		return "", apierr.InvalidIdentifierEncoding("identifier exceeds maximum length")
	}
	return string(raw), nil
}

// Validate reports an error if id is not an acceptable raw identifier
// (used on write, before encoding).
func Validate(id string) error {
	if id == "" {
		return apierr.InvalidIdentifierEncoding("identifier must not be empty")
	}
	if len(id) > MaxLength {
		return apierr.InvalidIdentifierEncoding("identifier exceeds maximum length")
	}
	return nil
}
