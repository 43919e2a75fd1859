package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// StorageKeyIterations is the PBKDF2 work factor for at-rest keys
	StorageKeyIterations = 100000

	// SaltSize is the size of a storage key salt
	SaltSize = 16

	fingerprintSize = 8
)

// Fingerprint returns a short hex digest of a public key blob for display
func Fingerprint(publicKey []byte) string {
	sum := blake2b.Sum256(publicKey)
	return hex.EncodeToString(sum[:fingerprintSize])
}

// GenerateNonce generates a random nonce
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	_, err := rand.Read(nonce)
	if err != nil {
		return nil, err
	}
	return nonce, nil
}

// DeriveStorageKey derives a 256-bit at-rest key from a password
func DeriveStorageKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, StorageKeyIterations, SymmetricKeySize, sha256.New)
}
