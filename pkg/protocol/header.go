package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrShortHeader     = errors.New("header too short")
	ErrMalformed       = errors.New("malformed payload")
	ErrTruncated       = errors.New("truncated batch record")
	ErrSizeMismatch    = errors.New("payload size mismatch")
	ErrPayloadTooLarge = errors.New("payload size exceeds limit")
	ErrFieldTooLong    = errors.New("field exceeds wire length")
	ErrUnknownOp       = errors.New("unknown op code")
)

// RequestHeader precedes every request payload
type RequestHeader struct {
	SenderID    ClientID // Caller's own id, zero before registration
	Version     uint8    // Protocol version
	Op          OpCode   // Request op code
	PayloadSize uint32   // Exact length of the following payload
}

// Encode encodes the header to bytes
func (h *RequestHeader) Encode() []byte {
	buf := make([]byte, RequestHeaderSize)

	copy(buf[0:16], h.SenderID[:])
	buf[16] = h.Version
	binary.BigEndian.PutUint16(buf[17:19], uint16(h.Op))
	binary.BigEndian.PutUint32(buf[19:23], h.PayloadSize)

	return buf
}

// Decode decodes the header from bytes
func (h *RequestHeader) Decode(buf []byte) error {
	if len(buf) < RequestHeaderSize {
		return ErrShortHeader
	}

	copy(h.SenderID[:], buf[0:16])
	h.Version = buf[16]
	h.Op = OpCode(binary.BigEndian.Uint16(buf[17:19]))
	h.PayloadSize = binary.BigEndian.Uint32(buf[19:23])

	return nil
}

// ResponseHeader precedes every response payload. It carries no id.
type ResponseHeader struct {
	Version     uint8
	Code        ResponseCode
	PayloadSize uint32
}

// Encode encodes the header to bytes
func (h *ResponseHeader) Encode() []byte {
	buf := make([]byte, ResponseHeaderSize)

	buf[0] = h.Version
	binary.BigEndian.PutUint16(buf[1:3], uint16(h.Code))
	binary.BigEndian.PutUint32(buf[3:7], h.PayloadSize)

	return buf
}

// Decode decodes the header from bytes
func (h *ResponseHeader) Decode(buf []byte) error {
	if len(buf) < ResponseHeaderSize {
		return ErrShortHeader
	}

	h.Version = buf[0]
	h.Code = ResponseCode(binary.BigEndian.Uint16(buf[1:3]))
	h.PayloadSize = binary.BigEndian.Uint32(buf[3:7])

	return nil
}

// Validate rejects payload sizes the client refuses to allocate for
func (h *ResponseHeader) Validate() error {
	if h.PayloadSize > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, h.PayloadSize, MaxPayloadSize)
	}
	return nil
}

// DecodeRequestHeader decodes a request header
func DecodeRequestHeader(buf []byte) (*RequestHeader, error) {
	h := &RequestHeader{}
	if err := h.Decode(buf); err != nil {
		return nil, err
	}
	return h, nil
}

// DecodeResponseHeader decodes a response header
func DecodeResponseHeader(buf []byte) (*ResponseHeader, error) {
	h := &ResponseHeader{}
	if err := h.Decode(buf); err != nil {
		return nil, err
	}
	return h, nil
}

// ReadRequestHeader reads a request header from an io.Reader
func ReadRequestHeader(r io.Reader) (*RequestHeader, error) {
	buf := make([]byte, RequestHeaderSize)

	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	return DecodeRequestHeader(buf)
}

// ReadResponseHeader reads and validates a response header from an io.Reader
func ReadResponseHeader(r io.Reader) (*ResponseHeader, error) {
	buf := make([]byte, ResponseHeaderSize)

	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	header, err := DecodeResponseHeader(buf)
	if err != nil {
		return nil, err
	}

	if err := header.Validate(); err != nil {
		return nil, err
	}

	return header, nil
}
