package crypto

import (
	"encoding/base64"
	"fmt"
)

// encodeFrame encodes a raw cipher frame to its Base64 wire form.
func encodeFrame(frame []byte) string {
	return base64.StdEncoding.EncodeToString(frame)
}

// decodeFrame decodes a Base64 wire frame, surfacing malformed input as a
// typed encoding error before any cryptographic work happens.
func decodeFrame(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, NewError(KindInvalidEncoding, "decode_frame", fmt.Errorf("invalid base64 frame: %w", err))
	}
	return raw, nil
}
