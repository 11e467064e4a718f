package pagination

import (
	"encoding/base64"
	"errors"
)

// Cursor represents a decoded pagination cursor
type Cursor struct {
	LastID string
}

// PageResult represents a paginated result set
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

var (
	ErrInvalidCursor = errors.New("invalid cursor format")
)

// EncodeCursor creates a base64-encoded cursor from the last item ID
func EncodeCursor(lastID string) string {
	if lastID == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(lastID))
}

// DecodeCursor decodes a base64-encoded cursor and returns the last ID
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	if len(decoded) == 0 {
		return nil, ErrInvalidCursor
	}

	return &Cursor{LastID: string(decoded)}, nil
}

// CreateNextCursor creates a cursor for the next page based on the last item
// Returns empty string if there are no more items
func CreateNextCursor[T any](items []T, limit int, getID func(T) string) string {
	if len(items) == 0 || len(items) < limit {
		return ""
	}
	lastItem := items[len(items)-1]
	return EncodeCursor(getID(lastItem))
}
