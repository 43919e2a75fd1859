package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// SymmetricKeySize is the key size of every SymmetricCipher in this package
const SymmetricKeySize = 32

var (
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrUnknownCipher      = errors.New("unknown cipher")
)

// KeyPair holds the serialized halves of an asymmetric key pair. PublicKey
// is the fixed-size wire blob, PrivateKey never leaves the process except
// through the identity file.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// AsymmetricCipher wraps and unwraps symmetric keys for a peer
type AsymmetricCipher interface {
	GenerateKeyPair() (KeyPair, error)
	Encrypt(publicKey, plaintext []byte) ([]byte, error)
	Decrypt(privateKey, ciphertext []byte) ([]byte, error)
}

// SymmetricCipher encrypts message content under a per-peer key
type SymmetricCipher interface {
	Name() string
	GenerateKey() ([]byte, error)
	Encrypt(key, plaintext []byte) ([]byte, error)
	Decrypt(key, ciphertext []byte) ([]byte, error)
}

// ===== RSA =====

// RSA is the RSA-OAEP AsymmetricCipher
type RSA struct{}

func (RSA) GenerateKeyPair() (KeyPair, error) {
	key, err := GenerateRSAKeyPair()
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate rsa key: %w", err)
	}

	pub, err := MarshalPublicKey(&key.PublicKey)
	if err != nil {
		return KeyPair{}, err
	}

	return KeyPair{PublicKey: pub, PrivateKey: MarshalPrivateKey(key)}, nil
}

func (RSA) Encrypt(publicKey, plaintext []byte) ([]byte, error) {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return RSAEncrypt(plaintext, pub)
}

func (RSA) Decrypt(privateKey, ciphertext []byte) ([]byte, error) {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return RSADecrypt(ciphertext, priv)
}

// ===== AES-256-GCM =====

// AESGCM is AES-256-GCM with the random nonce prepended to the ciphertext
type AESGCM struct{}

func (AESGCM) Name() string { return "aes-gcm" }

func (AESGCM) GenerateKey() ([]byte, error) { return GenerateAESKey() }

func (AESGCM) Encrypt(key, plaintext []byte) ([]byte, error) { return AESEncrypt(plaintext, key) }

func (AESGCM) Decrypt(key, ciphertext []byte) ([]byte, error) { return AESDecrypt(ciphertext, key) }

// GenerateAESKey generates a random 256-bit AES key
func GenerateAESKey() ([]byte, error) {
	return GenerateNonce(SymmetricKeySize)
}

// AESEncrypt encrypts data with AES-256-GCM
func AESEncrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return seal(gcm, plaintext)
}

// AESDecrypt decrypts data with AES-256-GCM
func AESDecrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return open(gcm, ciphertext)
}

// ===== CHACHA20-POLY1305 =====

// ChaCha20Poly1305 is the IETF ChaCha20-Poly1305 AEAD, nonce-prefixed like AESGCM
type ChaCha20Poly1305 struct{}

func (ChaCha20Poly1305) Name() string { return "chacha20-poly1305" }

func (ChaCha20Poly1305) GenerateKey() ([]byte, error) {
	return GenerateNonce(chacha20poly1305.KeySize)
}

func (ChaCha20Poly1305) Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return seal(aead, plaintext)
}

func (ChaCha20Poly1305) Decrypt(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return open(aead, ciphertext)
}

// SymmetricByName returns the cipher registered under name. An empty name
// selects AES-GCM.
func SymmetricByName(name string) (SymmetricCipher, error) {
	switch name {
	case "", "aes-gcm":
		return AESGCM{}, nil
	case "chacha20-poly1305":
		return ChaCha20Poly1305{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
	}
}

func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(aead cipher.AEAD, ciphertext []byte) ([]byte, error) {
	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
