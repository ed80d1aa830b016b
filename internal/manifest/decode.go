package manifest

import (
	"bytes"
	"encoding/json"
)

// unmarshalStrict decodes raw manifest JSON into m, rejecting unknown
// top-level and nested fields so a typo'd manifest key fails loudly instead
// of silently being ignored.
func unmarshalStrict(raw []byte, m *Manifest) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(m)
}
