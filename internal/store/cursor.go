package store

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/hadijannat/titan-aas/internal/apierr"
)

// cursorPayload is the opaque state encoded in a pagination cursor: the
// (created_at, id) tuple of the last item returned, ordering every
// ListPage query by insertion order with a stable tiebreak on id.
type cursorPayload struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// EncodeCursor renders the position after rec as an opaque cursor token.
func EncodeCursor(rec *Record) string {
	if rec == nil {
		return ""
	}
	payload := cursorPayload{CreatedAt: rec.CreatedAt, ID: rec.ID}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor recovers the (created_at, id) tuple from a cursor token
// previously produced by EncodeCursor. An empty cursor decodes to the
// zero tuple, meaning "start from the beginning".
func DecodeCursor(cursor string) (createdAt time.Time, id string, err error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", apierr.InvalidDocument("malformed pagination cursor")
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return time.Time{}, "", apierr.InvalidDocument("malformed pagination cursor")
	}
	return payload.CreatedAt, payload.ID, nil
}
