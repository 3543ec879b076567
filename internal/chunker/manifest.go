package chunker

import "encoding/json"

// MarshalParams serializes chunker parameters for storage in the
// repository's config object (spec: "server-side configuration
// (chunker params, compression hint)").
func MarshalParams(p Params) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalParams is the inverse of MarshalParams, falling back to
// DefaultParams for a zero-byte input (no stored config yet).
func UnmarshalParams(data []byte) (Params, error) {
	if len(data) == 0 {
		return DefaultParams(), nil
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return Params{}, err
	}
	if p.Window == 0 {
		p = DefaultParams()
	}
	return p, nil
}
