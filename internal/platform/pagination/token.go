// Package pagination implements the opaque page tokens used by list
// endpoints. A token is a base64url-encoded JSON cursor carrying the
// Firestore field values the next query should resume from.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPageToken indicates the supplied pageToken was not produced by
// EncodeToken or has been tampered with.
var ErrInvalidPageToken = errors.New("pagination: invalid pageToken")

// Cursor holds the resume position for a Firestore query. Exactly one of
// StartAfter or StartAt is normally populated; the values line up with the
// query's order-by fields.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// empty reports whether the cursor carries no resume position at all.
func (c Cursor) empty() bool {
	return len(c.StartAfter) == 0 && len(c.StartAt) == 0
}

// EncodeToken serialises the cursor into an opaque page token. An empty
// cursor encodes to the empty string, which callers treat as "no next page".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.empty() {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken. A blank token decodes
// to the zero cursor so first-page requests need no special casing.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
