package offline

import (
	"encoding/json"
	"fmt"
)

// EncodeEntry serializes a cache entry for byte-oriented backends.
func EncodeEntry(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

// DecodeEntry parses an entry written by EncodeEntry.
func DecodeEntry(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return resp, nil
}
