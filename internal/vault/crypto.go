package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Cipher encrypts credential values using AES-256-GCM with per-tenant
// key derivation. The same master key never encrypts two tenants' data
// with the same derived key, so a leaked derived key exposes one tenant.
type Cipher struct {
	masterKey []byte
	saltSize  int
	keyIter   int
}

// NewCipher creates a cipher from the process-wide master key
func NewCipher(masterKey string) *Cipher {
	// Normalize the master key to 32 bytes
	hash := sha256.Sum256([]byte(masterKey))
	return &Cipher{
		masterKey: hash[:],
		saltSize:  32,
		keyIter:   10000,
	}
}

// Encrypt seals plaintext for one tenant. Output layout: salt || nonce || ciphertext.
func (c *Cipher) Encrypt(plaintext, tenantID string) ([]byte, error) {
	salt := make([]byte, c.saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	key := c.deriveKey(tenantID, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	encrypted := make([]byte, len(salt)+len(nonce)+len(ciphertext))
	copy(encrypted, salt)
	copy(encrypted[len(salt):], nonce)
	copy(encrypted[len(salt)+len(nonce):], ciphertext)

	return encrypted, nil
}

// Decrypt opens data produced by Encrypt for the same tenant.
// A wrong tenant id derives a wrong key and fails authentication.
func (c *Cipher) Decrypt(encrypted []byte, tenantID string) (string, error) {
	if len(encrypted) < c.saltSize+12 { // 12 is the minimum GCM nonce size
		return "", fmt.Errorf("invalid encrypted data: too short")
	}

	salt := encrypted[:c.saltSize]
	encrypted = encrypted[c.saltSize:]

	key := c.deriveKey(tenantID, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(encrypted) < nonceSize {
		return "", fmt.Errorf("invalid encrypted data: missing nonce")
	}

	nonce := encrypted[:nonceSize]
	ciphertext := encrypted[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey derives a tenant-specific encryption key
func (c *Cipher) deriveKey(tenantID string, salt []byte) []byte {
	info := make([]byte, 0, len(c.masterKey)+len(tenantID))
	info = append(info, c.masterKey...)
	info = append(info, []byte(tenantID)...)
	return pbkdf2.Key(info, salt, c.keyIter, 32, sha256.New)
}
