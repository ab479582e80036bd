package itemstore

import (
	"encoding/base64"

	"cloudemu/pkg/api"
)

// Scan cursors are the raw item key, base64-encoded so they survive any
// transport. Resumption is strictly after the encoded key.

func encodeCursor(lastKey []byte) string {
	return base64.RawURLEncoding.EncodeToString(lastKey)
}

func decodeCursor(cursor string) ([]byte, error) {
	if cursor == "" {
		return nil, nil
	}
	key, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, api.InvalidArgumentf("malformed scan cursor")
	}
	// Resume after the cursor key.
	return append(key, 0x00), nil
}
