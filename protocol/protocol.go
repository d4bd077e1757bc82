// Package protocol implements meshline's RPC wire framing: a length-prefixed
// header followed by the call's serialized arguments.
//
// Frame format:
//
//	u32 headerLen (little-endian) | header (headerLen bytes, JSON) | args (header.ArgsLen bytes)
//
// The header carries exactly three fields — Service, Method, and ArgsLen —
// the minimum needed to dispatch the args that follow. It is JSON-encoded:
// the header is tiny and read once per call, so a schema-compiled encoding
// would buy nothing over a three-field struct this repo can debug with
// tcpdump.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxHeaderLen bounds a malicious or corrupt headerLen from causing an
// unbounded allocation.
const maxHeaderLen = 64 * 1024

// ErrMalformedFrame is returned for any frame that violates the wire format:
// an oversized header length, an unparseable header, or a short read.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Header is the three-field envelope describing the args that follow it.
type Header struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	ArgsLen uint32 `json:"argsLen"`
}

// Encode writes one frame: service, method, and args, to w.
func Encode(w io.Writer, service, method string, args []byte) error {
	h := Header{Service: service, Method: method, ArgsLen: uint32(len(args))}
	headerBytes, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("protocol: encode header: %w", err)
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(headerBytes)))

	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}
	if len(args) > 0 {
		if _, err := w.Write(args); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads one frame from r, returning the service name, method name,
// and the raw args bytes.
func Decode(r io.Reader) (service, method string, args []byte, err error) {
	lenBuf := make([]byte, 4)
	if _, err = io.ReadFull(r, lenBuf); err != nil {
		return "", "", nil, err
	}
	headerLen := binary.LittleEndian.Uint32(lenBuf)
	if headerLen == 0 || headerLen > maxHeaderLen {
		return "", "", nil, ErrMalformedFrame
	}

	headerBuf := make([]byte, headerLen)
	if _, err = io.ReadFull(r, headerBuf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return "", "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return "", "", nil, err
	}

	var h Header
	if err = json.Unmarshal(headerBuf, &h); err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	body := make([]byte, h.ArgsLen)
	if h.ArgsLen > 0 {
		if _, err = io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return "", "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
			}
			return "", "", nil, err
		}
	}

	return h.Service, h.Method, body, nil
}
