package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Protocol constants
const (
	// Protocol version sent in every request header
	Version uint8 = 1

	// Header sizes
	RequestHeaderSize  = 23 // sender_id(16) + version(1) + op(2) + payload_size(4)
	ResponseHeaderSize = 7  // version(1) + code(2) + payload_size(4)

	// Fixed field sizes
	ClientIDSize   = 16
	UsernameSize   = 255
	PublicKeySize  = 160
	UserRecordSize = ClientIDSize + UsernameSize // 271

	// sender_id(16) + message_id(4) + message_type(1) + content_size(4)
	BatchRecordHeaderSize = 25

	// Upper bound accepted for a response payload_size. Anything larger is
	// treated as a hostile or desynchronised header.
	MaxPayloadSize = 16 << 20

	// One-byte length prefixes in the register payload
	MaxFieldLength = 255
)

// OpCode selects the request payload variant
type OpCode uint16

// Request op codes
const (
	OpRegister     OpCode = 600
	OpGetUsers     OpCode = 601
	OpGetPublicKey OpCode = 602
	OpSendMessage  OpCode = 603
	OpPullMessages OpCode = 604
)

func (op OpCode) String() string {
	switch op {
	case OpRegister:
		return "register"
	case OpGetUsers:
		return "get-users"
	case OpGetPublicKey:
		return "get-public-key"
	case OpSendMessage:
		return "send-message"
	case OpPullMessages:
		return "pull-messages"
	default:
		return fmt.Sprintf("op(%d)", uint16(op))
	}
}

// ResponseCode selects the response payload variant
type ResponseCode uint16

// Response codes
const (
	CodeRegistered   ResponseCode = 2100
	CodeUserList     ResponseCode = 2101
	CodePublicKey    ResponseCode = 2102
	CodeMessageSent  ResponseCode = 2103
	CodeMessages     ResponseCode = 2104
	CodeGeneralError ResponseCode = 9000
)

// IsError reports whether the code is a server error. Unknown codes are
// errors as well: the client cannot interpret their payload.
func (c ResponseCode) IsError() bool {
	switch c {
	case CodeRegistered, CodeUserList, CodePublicKey, CodeMessageSent, CodeMessages:
		return false
	default:
		return true
	}
}

func (c ResponseCode) String() string {
	switch c {
	case CodeRegistered:
		return "registered"
	case CodeUserList:
		return "user-list"
	case CodePublicKey:
		return "public-key"
	case CodeMessageSent:
		return "message-sent"
	case CodeMessages:
		return "messages"
	case CodeGeneralError:
		return "general-error"
	default:
		return fmt.Sprintf("code(%d)", uint16(c))
	}
}

// MessageType is the content kind of a relayed message
type MessageType uint8

// Message types
const (
	MessageTypePlainText     MessageType = 1 // legacy, unencrypted relay
	MessageTypeSymmetricKey  MessageType = 2 // asymmetric-wrapped symmetric key
	MessageTypeEncryptedText MessageType = 3 // symmetric ciphertext
)

func (t MessageType) String() string {
	switch t {
	case MessageTypePlainText:
		return "plain-text"
	case MessageTypeSymmetricKey:
		return "symmetric-key"
	case MessageTypeEncryptedText:
		return "encrypted-text"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ClientID is the 16-byte opaque identifier assigned by the server
type ClientID [ClientIDSize]byte

// IsZero reports whether the id is unset
func (id ClientID) IsZero() bool {
	return id == ClientID{}
}

// Bytes returns a copy of the raw id
func (id ClientID) Bytes() []byte {
	return append([]byte(nil), id[:]...)
}

// String renders the id in UUID form
func (id ClientID) String() string {
	return uuid.UUID(id).String()
}

// Short returns the first 8 hex characters, for logs
func (id ClientID) Short() string {
	return hex.EncodeToString(id[:4])
}

// ParseClientID parses a UUID rendering or 32 hex characters
func ParseClientID(s string) (ClientID, error) {
	s = strings.TrimSpace(s)
	if len(s) == 2*ClientIDSize {
		var id ClientID
		if _, err := hex.Decode(id[:], []byte(s)); err == nil {
			return id, nil
		}
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return ClientID{}, fmt.Errorf("invalid client id %q: %w", s, err)
	}
	return ClientID(u), nil
}

// ClientIDFromBytes copies b into a ClientID. b must be exactly 16 bytes.
func ClientIDFromBytes(b []byte) (ClientID, error) {
	var id ClientID
	if len(b) != ClientIDSize {
		return id, fmt.Errorf("%w: client id is %d bytes, want %d", ErrMalformed, len(b), ClientIDSize)
	}
	copy(id[:], b)
	return id, nil
}
