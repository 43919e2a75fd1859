package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrKeyTooLarge      = errors.New("public key does not fit the wire field")
)

const (
	// RSAKeyBits is the modulus size. A 1024-bit PKCS#1 public key encodes
	// to 140 bytes, which fits the 160-byte public key field of the protocol.
	RSAKeyBits = 1024

	// PublicKeyBlobSize is the fixed size of a public key on the wire
	PublicKeyBlobSize = 160
)

// GenerateRSAKeyPair generates a new RSA key pair
func GenerateRSAKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, RSAKeyBits)
}

// MarshalPublicKey encodes key as PKCS#1 DER zero-padded to PublicKeyBlobSize
func MarshalPublicKey(key *rsa.PublicKey) ([]byte, error) {
	der := x509.MarshalPKCS1PublicKey(key)
	if len(der) > PublicKeyBlobSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(der))
	}

	blob := make([]byte, PublicKeyBlobSize)
	copy(blob, der)
	return blob, nil
}

// ParsePublicKey decodes a public key blob. Padding after the DER sequence
// must be zero.
func ParsePublicKey(blob []byte) (*rsa.PublicKey, error) {
	var seq asn1.RawValue
	rest, err := asn1.Unmarshal(blob, &seq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	for _, b := range rest {
		if b != 0 {
			return nil, fmt.Errorf("%w: trailing data after public key", ErrInvalidKey)
		}
	}

	key, err := x509.ParsePKCS1PublicKey(blob[:len(blob)-len(rest)])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// MarshalPrivateKey encodes key as PKCS#1 DER
func MarshalPrivateKey(key *rsa.PrivateKey) []byte {
	return x509.MarshalPKCS1PrivateKey(key)
}

// ParsePrivateKey decodes a PKCS#1 DER private key
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// ExportPrivateKeyPEM exports private key to PEM format
func ExportPrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	privBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}

	return pem.EncodeToMemory(privBlock), nil
}

// ExportPublicKeyPEM exports public key to PEM format
func ExportPublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	pubBlock := &pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(key),
	}

	return pem.EncodeToMemory(pubBlock), nil
}

// ImportPrivateKeyPEM imports private key from PEM format
func ImportPrivateKeyPEM(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}

	return ParsePrivateKey(block.Bytes)
}

// ImportPublicKeyPEM imports public key from PEM format
func ImportPublicKeyPEM(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}

	return ParsePublicKey(block.Bytes)
}

// SaveKeyToFile saves a PEM encoded key to file
func SaveKeyToFile(filename string, pemData []byte) error {
	return os.WriteFile(filename, pemData, 0600)
}

// EncodeBlob renders key material for the line-based identity file
func EncodeBlob(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBlob reverses EncodeBlob
func DecodeBlob(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return b, nil
}

// RSAEncrypt encrypts data with RSA public key using OAEP
func RSAEncrypt(data []byte, publicKey *rsa.PublicKey) ([]byte, error) {
	hash := sha256.New()
	ciphertext, err := rsa.EncryptOAEP(hash, rand.Reader, publicKey, data, nil)
	if err != nil {
		return nil, ErrEncryptionFailed
	}
	return ciphertext, nil
}

// RSADecrypt decrypts data with RSA private key using OAEP
func RSADecrypt(ciphertext []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	hash := sha256.New()
	plaintext, err := rsa.DecryptOAEP(hash, rand.Reader, privateKey, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
