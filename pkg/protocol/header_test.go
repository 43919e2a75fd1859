package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func testID(s string) ClientID {
	var id ClientID
	copy(id[:], s)
	return id
}

func TestRequestHeaderEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		header *RequestHeader
	}{
		{
			name: "register before id assigned",
			header: &RequestHeader{
				Version:     Version,
				Op:          OpRegister,
				PayloadSize: 167,
			},
		},
		{
			name: "send message",
			header: &RequestHeader{
				SenderID:    testID("CID0000000000001"),
				Version:     Version,
				Op:          OpSendMessage,
				PayloadSize: 4096,
			},
		},
		{
			name: "empty pull",
			header: &RequestHeader{
				SenderID:    testID("CID0000000000002"),
				Version:     Version,
				Op:          OpPullMessages,
				PayloadSize: 0,
			},
		},
		{
			name: "max values",
			header: &RequestHeader{
				SenderID:    ClientID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
				Version:     0xff,
				Op:          OpCode(0xffff),
				PayloadSize: 0xffffffff,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.header.Encode()

			if len(encoded) != RequestHeaderSize {
				t.Errorf("Encode() length = %d, want %d", len(encoded), RequestHeaderSize)
			}

			decoded, err := DecodeRequestHeader(encoded)
			if err != nil {
				t.Fatalf("DecodeRequestHeader() error = %v", err)
			}

			if *decoded != *tt.header {
				t.Errorf("decoded = %+v, want %+v", decoded, tt.header)
			}
		})
	}
}

func TestRequestHeaderWireLayout(t *testing.T) {
	h := &RequestHeader{
		SenderID:    testID("ABCDEFGHIJKLMNOP"),
		Version:     1,
		Op:          OpGetPublicKey,
		PayloadSize: 16,
	}

	want := append([]byte("ABCDEFGHIJKLMNOP"), 0x01, 0x02, 0x5A, 0x00, 0x00, 0x00, 0x10)
	if got := h.Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestResponseHeaderEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		header *ResponseHeader
	}{
		{"registered", &ResponseHeader{Version: 2, Code: CodeRegistered, PayloadSize: 16}},
		{"user list", &ResponseHeader{Version: 2, Code: CodeUserList, PayloadSize: 2 * UserRecordSize}},
		{"empty messages", &ResponseHeader{Version: 2, Code: CodeMessages, PayloadSize: 0}},
		{"general error", &ResponseHeader{Version: 2, Code: CodeGeneralError, PayloadSize: 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.header.Encode()
			if len(encoded) != ResponseHeaderSize {
				t.Errorf("Encode() length = %d, want %d", len(encoded), ResponseHeaderSize)
			}

			decoded, err := DecodeResponseHeader(encoded)
			if err != nil {
				t.Fatalf("DecodeResponseHeader() error = %v", err)
			}
			if *decoded != *tt.header {
				t.Errorf("decoded = %+v, want %+v", decoded, tt.header)
			}
		})
	}
}

func TestResponseHeaderWireLayout(t *testing.T) {
	buf := []byte{0x02, 0x08, 0x38, 0x00, 0x00, 0x01, 0x0F}

	h, err := DecodeResponseHeader(buf)
	if err != nil {
		t.Fatalf("DecodeResponseHeader() error = %v", err)
	}

	if h.Version != 2 {
		t.Errorf("Version = %d, want 2", h.Version)
	}
	if h.Code != CodeMessages {
		t.Errorf("Code = %d, want %d", h.Code, CodeMessages)
	}
	if h.PayloadSize != 271 {
		t.Errorf("PayloadSize = %d, want 271", h.PayloadSize)
	}
}

func TestHeaderDecodeTooShort(t *testing.T) {
	if _, err := DecodeRequestHeader(make([]byte, RequestHeaderSize-1)); err != ErrShortHeader {
		t.Errorf("DecodeRequestHeader() error = %v, want %v", err, ErrShortHeader)
	}
	if _, err := DecodeResponseHeader(make([]byte, ResponseHeaderSize-1)); err != ErrShortHeader {
		t.Errorf("DecodeResponseHeader() error = %v, want %v", err, ErrShortHeader)
	}
}

func TestReadResponseHeaderRejectsOversizedPayload(t *testing.T) {
	h := &ResponseHeader{Version: 2, Code: CodeMessages, PayloadSize: MaxPayloadSize + 1}

	_, err := ReadResponseHeader(bytes.NewReader(h.Encode()))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("ReadResponseHeader() error = %v, want %v", err, ErrPayloadTooLarge)
	}
}

func TestReadResponseHeaderShortStream(t *testing.T) {
	_, err := ReadResponseHeader(bytes.NewReader([]byte{0x02, 0x08}))
	if err == nil {
		t.Fatal("ReadResponseHeader() should fail on a short stream")
	}
}

func TestParseClientID(t *testing.T) {
	id := testID("CID0000000000001")

	parsed, err := ParseClientID(id.String())
	if err != nil {
		t.Fatalf("ParseClientID(%q) error = %v", id.String(), err)
	}
	if parsed != id {
		t.Errorf("ParseClientID() = %x, want %x", parsed, id)
	}

	hexForm := "43494430303030303030303030303031"
	parsed, err = ParseClientID(hexForm)
	if err != nil {
		t.Fatalf("ParseClientID(%q) error = %v", hexForm, err)
	}
	if parsed != id {
		t.Errorf("ParseClientID(hex) = %x, want %x", parsed, id)
	}

	if _, err := ParseClientID("bob"); err == nil {
		t.Error("ParseClientID(\"bob\") should fail")
	}
}

func TestResponseCodeIsError(t *testing.T) {
	for _, code := range []ResponseCode{CodeRegistered, CodeUserList, CodePublicKey, CodeMessageSent, CodeMessages} {
		if code.IsError() {
			t.Errorf("%s.IsError() = true", code)
		}
	}
	for _, code := range []ResponseCode{CodeGeneralError, 9001, 1234} {
		if !code.IsError() {
			t.Errorf("%s.IsError() = false", code)
		}
	}
}
