// Package protocol implements the relay wire codec.
//
// The protocol package defines the request and response headers, the
// payload variants selected by op code and response code, and the batched
// pull-response parser. It performs no network I/O of its own beyond the
// Read/Write helpers that operate on an io.Reader or io.Writer.
//
// # Request Header
//
// Every request starts with a 23-byte header:
//   - SenderID (16 bytes): caller's assigned id, zero before registration
//   - Version (1 byte): protocol version (1)
//   - Op (2 bytes): request op code
//   - PayloadSize (4 bytes): exact length of the payload that follows
//
// # Response Header
//
// Every response starts with a 7-byte header:
//   - Version (1 byte)
//   - Code (2 bytes): response code
//   - PayloadSize (4 bytes)
//
// # Request Ops
//
//   - 600 Register: name_len(1), name, pubkey_len(1), pubkey
//   - 601 GetUsers: empty
//   - 602 GetPublicKey: peer_id(16)
//   - 603 SendMessage: recipient_id(16), message_type(1), content_size(4), content
//   - 604 PullMessages: empty
//
// # Response Codes
//
//   - 2100 Registered: new_id(16)
//   - 2101 UserList: repeated peer_id(16), username(255, NUL padded)
//   - 2102 PublicKey: peer_id(16), public_key(160)
//   - 2103 MessageSent: message_id(4)
//   - 2104 Messages: repeated sender_id(16), message_id(4), message_type(1),
//     content_size(4), content
//   - 9000 and any other code: server error with optional text
//
// # Message Encoding
//
// All multi-byte integers are big-endian. Fields are written at fixed
// offsets one by one; nothing relies on in-memory struct layout.
//
// # Usage Example
//
//	req, err := protocol.NewRequest(myID, &protocol.SendMessageRequest{
//	    Recipient: peerID,
//	    Type:      protocol.MessageTypeEncryptedText,
//	    Content:   ciphertext,
//	})
//	if err != nil {
//	    return err
//	}
//	conn.Write(req.Encode())
//
//	resp, err := protocol.ReadResponse(conn)
//	if err != nil {
//	    return err
//	}
//	payload, err := resp.Decode()
package protocol
