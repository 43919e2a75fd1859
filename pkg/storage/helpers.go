package storage

import (
	"time"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
)

// ===== HELPER FUNCTIONS =====

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// seal encrypts an optional field. Empty stays empty.
func (db *MessageDB) seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	return crypto.AESEncrypt(plaintext, db.encryptionKey)
}

func (db *MessageDB) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	return crypto.AESDecrypt(ciphertext, db.encryptionKey)
}

func preview(content []byte) string {
	runes := []rune(string(content))
	if len(runes) > 100 {
		return string(runes[:100]) + "..."
	}
	return string(runes)
}
