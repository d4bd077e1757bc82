package codec

import (
	"encoding/json"
)

// JSONCodec uses encoding/json for the envelope. Pros: human-readable,
// cross-language, easy to debug. Cons: slower (reflection + string
// parsing), larger payload (field names repeated on every message).
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
