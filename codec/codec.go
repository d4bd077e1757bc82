// Package codec serializes the message.RPCMessage envelope that rides
// inside a protocol frame's body.
//
// It defines a pluggable Codec interface with two implementations:
//   - JSONCodec:   human-readable, easy to debug with tcpdump, slower
//   - BinaryCodec: compact length-prefixed binary, faster
//
// Both endpoints of a call must agree on the codec out of band (the
// rpcprovider and rpcconsumer WithCodec options); meshline defaults to JSON
// everywhere.
package codec

// CodecType identifies the serialization format.
type CodecType byte

const (
	CodecTypeJSON   CodecType = 0 // JSON serialization (encoding/json)
	CodecTypeBinary CodecType = 1 // Custom binary serialization
)

// Codec is the interface for serialization/deserialization. Adding a new
// format means implementing these three methods, nothing else changes.
type Codec interface {
	Encode(v any) ([]byte, error)    // Serialize a struct to bytes
	Decode(data []byte, v any) error // Deserialize bytes back to a struct
	Type() CodecType                 // Return the codec type identifier
}

// GetCodec is a factory function that returns the appropriate codec by type.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}
