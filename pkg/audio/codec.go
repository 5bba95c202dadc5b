package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Both the carrier stream and the agent stream carry 8 kHz mu-law, one byte per sample.
const SampleRate = 8000

// EncodePayload encodes raw audio bytes for a JSON media frame.
func EncodePayload(chunk []byte) string {
	return base64.StdEncoding.EncodeToString(chunk)
}

// DecodePayload decodes a media frame payload.
func DecodePayload(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio payload: %w", err)
	}
	return data, nil
}

// Passthrough validates a payload by decoding it and re-encodes the bytes
// unchanged, so what is forwarded is always canonical base64.
func Passthrough(payload string) (string, int, error) {
	data, err := DecodePayload(payload)
	if err != nil {
		return "", 0, err
	}
	return EncodePayload(data), len(data), nil
}

// Duration is the playback time of n mu-law bytes.
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
