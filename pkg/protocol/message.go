package protocol

import (
	"fmt"
	"io"
)

// Request represents a complete request: header followed by payload
type Request struct {
	Header  *RequestHeader
	Payload []byte
}

// NewRequest encodes payload and builds a header whose PayloadSize matches it
func NewRequest(sender ClientID, payload RequestPayload) (*Request, error) {
	body, err := payload.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", payload.Op(), err)
	}

	return &Request{
		Header: &RequestHeader{
			SenderID:    sender,
			Version:     Version,
			Op:          payload.Op(),
			PayloadSize: uint32(len(body)),
		},
		Payload: body,
	}, nil
}

// Encode returns the exact wire bytes of the request
func (r *Request) Encode() []byte {
	buf := make([]byte, 0, RequestHeaderSize+len(r.Payload))
	buf = append(buf, r.Header.Encode()...)
	buf = append(buf, r.Payload...)
	return buf
}

// Response represents a complete response as read from the wire
type Response struct {
	Header  *ResponseHeader
	Payload []byte
}

// NewResponse builds a response for payload
func NewResponse(payload ResponsePayload) (*Response, error) {
	body, err := payload.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", payload.Code(), err)
	}

	return &Response{
		Header: &ResponseHeader{
			Version:     Version,
			Code:        payload.Code(),
			PayloadSize: uint32(len(body)),
		},
		Payload: body,
	}, nil
}

// Encode returns the exact wire bytes of the response
func (r *Response) Encode() []byte {
	buf := make([]byte, 0, ResponseHeaderSize+len(r.Payload))
	buf = append(buf, r.Header.Encode()...)
	buf = append(buf, r.Payload...)
	return buf
}

// Decode decodes the payload according to the header code
func (r *Response) Decode() (ResponsePayload, error) {
	if uint64(len(r.Payload)) != uint64(r.Header.PayloadSize) {
		return nil, fmt.Errorf("%w: header declares %d bytes, have %d", ErrSizeMismatch, r.Header.PayloadSize, len(r.Payload))
	}
	return DecodeResponsePayload(r.Header.Code, r.Payload)
}

// ReadResponse reads one full response: the header, then exactly the
// declared number of payload bytes
func ReadResponse(r io.Reader) (*Response, error) {
	header, err := ReadResponseHeader(r)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, header.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &Response{Header: header, Payload: payload}, nil
}

// ReadRequest reads one full request
func ReadRequest(r io.Reader) (*Request, error) {
	header, err := ReadRequestHeader(r)
	if err != nil {
		return nil, err
	}

	if header.PayloadSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, header.PayloadSize)
	}

	payload := make([]byte, header.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &Request{Header: header, Payload: payload}, nil
}

// WriteRequest writes a request to an io.Writer
func WriteRequest(w io.Writer, r *Request) error {
	_, err := w.Write(r.Encode())
	return err
}

// WriteResponse writes a response to an io.Writer
func WriteResponse(w io.Writer, r *Response) error {
	_, err := w.Write(r.Encode())
	return err
}
