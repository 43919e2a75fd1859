package protocol

import (
	"encoding/binary"
	"fmt"
)

// RequestPayload is implemented by every request variant. The variant is
// selected by the header op code, there is no discriminant byte.
type RequestPayload interface {
	Op() OpCode
	Encode() ([]byte, error)
}

// ===== REGISTER (600) =====

// RegisterRequest asks the server to assign an id to a username
type RegisterRequest struct {
	Name      string // Username, at most 255 bytes
	PublicKey []byte // Public key blob, at most 255 bytes
}

func (r *RegisterRequest) Op() OpCode { return OpRegister }

// Encode encodes the register payload: name_len, name, pubkey_len, pubkey
func (r *RegisterRequest) Encode() ([]byte, error) {
	if len(r.Name) > MaxFieldLength {
		return nil, fmt.Errorf("%w: username is %d bytes", ErrFieldTooLong, len(r.Name))
	}
	if len(r.PublicKey) > MaxFieldLength {
		return nil, fmt.Errorf("%w: public key is %d bytes", ErrFieldTooLong, len(r.PublicKey))
	}

	buf := make([]byte, 1+len(r.Name)+1+len(r.PublicKey))
	offset := 0

	buf[offset] = uint8(len(r.Name))
	offset++

	copy(buf[offset:], r.Name)
	offset += len(r.Name)

	buf[offset] = uint8(len(r.PublicKey))
	offset++

	copy(buf[offset:], r.PublicKey)

	return buf, nil
}

// Decode decodes the register payload
func (r *RegisterRequest) Decode(buf []byte) error {
	if len(buf) < 2 {
		return fmt.Errorf("%w: register payload is %d bytes", ErrMalformed, len(buf))
	}

	offset := 0
	nameLen := int(buf[offset])
	offset++

	if len(buf) < offset+nameLen+1 {
		return fmt.Errorf("%w: register name overruns payload", ErrMalformed)
	}
	r.Name = string(buf[offset : offset+nameLen])
	offset += nameLen

	keyLen := int(buf[offset])
	offset++

	if len(buf) != offset+keyLen {
		return fmt.Errorf("%w: register payload is %d bytes, fields declare %d", ErrSizeMismatch, len(buf), offset+keyLen)
	}
	r.PublicKey = make([]byte, keyLen)
	copy(r.PublicKey, buf[offset:])

	return nil
}

// ===== GET USERS (601) =====

// GetUsersRequest has an empty payload
type GetUsersRequest struct{}

func (r *GetUsersRequest) Op() OpCode { return OpGetUsers }

func (r *GetUsersRequest) Encode() ([]byte, error) { return []byte{}, nil }

func (r *GetUsersRequest) Decode(buf []byte) error {
	return expectEmpty(OpGetUsers, buf)
}

// ===== GET PUBLIC KEY (602) =====

// GetPublicKeyRequest asks for a peer's public key
type GetPublicKeyRequest struct {
	PeerID ClientID
}

func (r *GetPublicKeyRequest) Op() OpCode { return OpGetPublicKey }

func (r *GetPublicKeyRequest) Encode() ([]byte, error) {
	buf := make([]byte, ClientIDSize)
	copy(buf, r.PeerID[:])
	return buf, nil
}

func (r *GetPublicKeyRequest) Decode(buf []byte) error {
	id, err := ClientIDFromBytes(buf)
	if err != nil {
		return err
	}
	r.PeerID = id
	return nil
}

// ===== SEND MESSAGE (603) =====

// SendMessageRequest relays content to a recipient
type SendMessageRequest struct {
	Recipient ClientID
	Type      MessageType
	Content   []byte
}

func (r *SendMessageRequest) Op() OpCode { return OpSendMessage }

// Encode encodes recipient_id, message_type, content_size, content
func (r *SendMessageRequest) Encode() ([]byte, error) {
	buf := make([]byte, ClientIDSize+1+4+len(r.Content))
	offset := 0

	copy(buf[offset:], r.Recipient[:])
	offset += ClientIDSize

	buf[offset] = uint8(r.Type)
	offset++

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(r.Content)))
	offset += 4

	copy(buf[offset:], r.Content)

	return buf, nil
}

// Decode decodes the send message payload
func (r *SendMessageRequest) Decode(buf []byte) error {
	if len(buf) < ClientIDSize+1+4 {
		return fmt.Errorf("%w: send payload is %d bytes", ErrMalformed, len(buf))
	}

	offset := 0

	copy(r.Recipient[:], buf[offset:offset+ClientIDSize])
	offset += ClientIDSize

	r.Type = MessageType(buf[offset])
	offset++

	contentSize := binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	if uint64(len(buf)-offset) != uint64(contentSize) {
		return fmt.Errorf("%w: content_size %d, %d bytes follow", ErrSizeMismatch, contentSize, len(buf)-offset)
	}

	r.Content = make([]byte, contentSize)
	copy(r.Content, buf[offset:])

	return nil
}

// ===== PULL MESSAGES (604) =====

// PullMessagesRequest has an empty payload
type PullMessagesRequest struct{}

func (r *PullMessagesRequest) Op() OpCode { return OpPullMessages }

func (r *PullMessagesRequest) Encode() ([]byte, error) { return []byte{}, nil }

func (r *PullMessagesRequest) Decode(buf []byte) error {
	return expectEmpty(OpPullMessages, buf)
}

type requestDecoder interface {
	RequestPayload
	Decode(buf []byte) error
}

// DecodeRequestPayload decodes a request payload selected by op code
func DecodeRequestPayload(op OpCode, buf []byte) (RequestPayload, error) {
	var payload requestDecoder

	switch op {
	case OpRegister:
		payload = &RegisterRequest{}
	case OpGetUsers:
		payload = &GetUsersRequest{}
	case OpGetPublicKey:
		payload = &GetPublicKeyRequest{}
	case OpSendMessage:
		payload = &SendMessageRequest{}
	case OpPullMessages:
		payload = &PullMessagesRequest{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, uint16(op))
	}

	if err := payload.Decode(buf); err != nil {
		return nil, err
	}
	return payload, nil
}

func expectEmpty(op OpCode, buf []byte) error {
	if len(buf) != 0 {
		return fmt.Errorf("%w: %s carries %d payload bytes, want 0", ErrSizeMismatch, op, len(buf))
	}
	return nil
}
