package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ResponsePayload is implemented by every response variant. The variant is
// selected by the response code.
type ResponsePayload interface {
	Code() ResponseCode
	Encode() ([]byte, error)
}

// ===== REGISTRATION ACK (2100) =====

// RegistrationAck carries the id the server assigned
type RegistrationAck struct {
	ClientID ClientID
}

func (a *RegistrationAck) Code() ResponseCode { return CodeRegistered }

func (a *RegistrationAck) Encode() ([]byte, error) {
	buf := make([]byte, ClientIDSize)
	copy(buf, a.ClientID[:])
	return buf, nil
}

func (a *RegistrationAck) Decode(buf []byte) error {
	id, err := ClientIDFromBytes(buf)
	if err != nil {
		return err
	}
	a.ClientID = id
	return nil
}

// ===== USER LIST (2101) =====

// UserRecord is one fixed 271-byte entry of a user list
type UserRecord struct {
	ID       ClientID
	Username string
}

// UserList is a sequence of fixed-size user records
type UserList struct {
	Users []UserRecord
}

func (l *UserList) Code() ResponseCode { return CodeUserList }

func (l *UserList) Encode() ([]byte, error) {
	buf := make([]byte, len(l.Users)*UserRecordSize)

	for i, u := range l.Users {
		offset := i * UserRecordSize
		copy(buf[offset:], u.ID[:])
		if err := putUsername(buf[offset+ClientIDSize:offset+UserRecordSize], u.Username); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// Decode splits the payload into 271-byte records
func (l *UserList) Decode(buf []byte) error {
	if len(buf)%UserRecordSize != 0 {
		return fmt.Errorf("%w: user list is %d bytes, not a multiple of %d", ErrMalformed, len(buf), UserRecordSize)
	}

	count := len(buf) / UserRecordSize
	l.Users = nil
	if count > 0 {
		l.Users = make([]UserRecord, 0, count)
	}

	for i := 0; i < count; i++ {
		offset := i * UserRecordSize

		var u UserRecord
		copy(u.ID[:], buf[offset:offset+ClientIDSize])
		u.Username = DecodeUsername(buf[offset+ClientIDSize : offset+UserRecordSize])

		l.Users = append(l.Users, u)
	}

	return nil
}

// EncodeUsername writes name into a NUL-padded 255-byte field
func EncodeUsername(name string) ([]byte, error) {
	buf := make([]byte, UsernameSize)
	if err := putUsername(buf, name); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeUsername trims a username field at its first NUL. Bytes before the
// NUL are kept verbatim; a field without NUL is returned whole.
func DecodeUsername(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		return string(field[:i])
	}
	return string(field)
}

func putUsername(dst []byte, name string) error {
	if len(name) > len(dst) {
		return fmt.Errorf("%w: username is %d bytes, field holds %d", ErrFieldTooLong, len(name), len(dst))
	}
	n := copy(dst, name)
	clear(dst[n:])
	return nil
}

// ===== PUBLIC KEY ACK (2102) =====

// PublicKeyAck carries a peer's public key
type PublicKeyAck struct {
	PeerID    ClientID
	PublicKey []byte // Always PublicKeySize bytes once decoded
}

func (a *PublicKeyAck) Code() ResponseCode { return CodePublicKey }

func (a *PublicKeyAck) Encode() ([]byte, error) {
	if len(a.PublicKey) > PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes, field holds %d", ErrFieldTooLong, len(a.PublicKey), PublicKeySize)
	}

	buf := make([]byte, ClientIDSize+PublicKeySize)
	copy(buf[0:ClientIDSize], a.PeerID[:])
	copy(buf[ClientIDSize:], a.PublicKey)

	return buf, nil
}

func (a *PublicKeyAck) Decode(buf []byte) error {
	if len(buf) != ClientIDSize+PublicKeySize {
		return fmt.Errorf("%w: public key ack is %d bytes, want %d", ErrMalformed, len(buf), ClientIDSize+PublicKeySize)
	}

	copy(a.PeerID[:], buf[0:ClientIDSize])
	a.PublicKey = make([]byte, PublicKeySize)
	copy(a.PublicKey, buf[ClientIDSize:])

	return nil
}

// ===== SEND ACK (2103) =====

// SendAck carries the id the server assigned to a relayed message
type SendAck struct {
	MessageID uint32
}

func (a *SendAck) Code() ResponseCode { return CodeMessageSent }

func (a *SendAck) Encode() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, a.MessageID)
	return buf, nil
}

func (a *SendAck) Decode(buf []byte) error {
	if len(buf) != 4 {
		return fmt.Errorf("%w: send ack is %d bytes, want 4", ErrMalformed, len(buf))
	}
	a.MessageID = binary.BigEndian.Uint32(buf)
	return nil
}

// ===== PULLED BATCH (2104) =====

// PulledRecord is one variable-length record of a pull response
type PulledRecord struct {
	SenderID  ClientID
	MessageID uint32
	Type      MessageType
	Content   []byte
}

// PulledBatch is the concatenation of records queued for the caller
type PulledBatch struct {
	Records []PulledRecord
}

func (b *PulledBatch) Code() ResponseCode { return CodeMessages }

func (b *PulledBatch) Encode() ([]byte, error) {
	size := 0
	for _, r := range b.Records {
		size += BatchRecordHeaderSize + len(r.Content)
	}

	buf := make([]byte, size)
	offset := 0

	for _, r := range b.Records {
		copy(buf[offset:], r.SenderID[:])
		offset += ClientIDSize

		binary.BigEndian.PutUint32(buf[offset:], r.MessageID)
		offset += 4

		buf[offset] = uint8(r.Type)
		offset++

		binary.BigEndian.PutUint32(buf[offset:], uint32(len(r.Content)))
		offset += 4

		copy(buf[offset:], r.Content)
		offset += len(r.Content)
	}

	return buf, nil
}

// Decode walks the buffer record by record. Every declared content_size is
// checked against the remaining bytes before slicing.
func (b *PulledBatch) Decode(buf []byte) error {
	b.Records = nil
	offset := 0

	for offset < len(buf) {
		remaining := len(buf) - offset
		if remaining < BatchRecordHeaderSize {
			return fmt.Errorf("%w: record %d has %d header bytes, want %d",
				ErrTruncated, len(b.Records), remaining, BatchRecordHeaderSize)
		}

		var r PulledRecord

		copy(r.SenderID[:], buf[offset:offset+ClientIDSize])
		offset += ClientIDSize

		r.MessageID = binary.BigEndian.Uint32(buf[offset:])
		offset += 4

		r.Type = MessageType(buf[offset])
		offset++

		contentSize := binary.BigEndian.Uint32(buf[offset:])
		offset += 4

		if uint64(contentSize) > uint64(len(buf)-offset) {
			return fmt.Errorf("%w: record %d declares %d content bytes, %d remain",
				ErrTruncated, len(b.Records), contentSize, len(buf)-offset)
		}

		r.Content = make([]byte, contentSize)
		copy(r.Content, buf[offset:offset+int(contentSize)])
		offset += int(contentSize)

		b.Records = append(b.Records, r)
	}

	return nil
}

// ===== SERVER ERROR (9000 and others) =====

// ServerError is any response code the client treats as a refusal. The
// payload, when present, is free text.
type ServerError struct {
	ErrorCode ResponseCode
	Text      string
}

func (e *ServerError) Code() ResponseCode {
	if e.ErrorCode == 0 {
		return CodeGeneralError
	}
	return e.ErrorCode
}

func (e *ServerError) Encode() ([]byte, error) {
	return []byte(e.Text), nil
}

func (e *ServerError) Decode(buf []byte) error {
	e.Text = string(bytes.TrimRight(buf, "\x00"))
	return nil
}

func (e *ServerError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("server error %d", uint16(e.Code()))
	}
	return fmt.Sprintf("server error %d: %s", uint16(e.Code()), e.Text)
}

type responseDecoder interface {
	ResponsePayload
	Decode(buf []byte) error
}

// DecodeResponsePayload decodes a response payload selected by code. Codes
// outside the success set decode to *ServerError.
func DecodeResponsePayload(code ResponseCode, buf []byte) (ResponsePayload, error) {
	var payload responseDecoder

	switch code {
	case CodeRegistered:
		payload = &RegistrationAck{}
	case CodeUserList:
		payload = &UserList{}
	case CodePublicKey:
		payload = &PublicKeyAck{}
	case CodeMessageSent:
		payload = &SendAck{}
	case CodeMessages:
		payload = &PulledBatch{}
	default:
		payload = &ServerError{ErrorCode: code}
	}

	if err := payload.Decode(buf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", code, err)
	}
	return payload, nil
}
