package identifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{
		"urn:x:1",
		"https://example.com/ids/shell/1",
		"",
		"urn:with:unicode:éè",
	}
	for _, id := range cases {
		encoded := Encode(id)
		assert.NotContains(t, encoded, "=", "Base64URL encoding must be unpadded")
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
}

func TestDecodeRejectsInvalidAlphabet(t *testing.T) {
	_, err := Decode("not base64url!!!")
	require.Error(t, err)
}

func TestDecodeRejectsOversizedIdentifier(t *testing.T) {
	huge := strings.Repeat("a", MaxLength+1)
	encoded := Encode(huge)
	_, err := Decode(encoded)
	require.Error(t, err)
}

func TestValidateRejectsEmpty(t *testing.T) {
	require.Error(t, Validate(""))
}
