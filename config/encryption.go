package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// EncryptionMethod defines how data is encrypted
type EncryptionMethod string

const (
	EncryptionNone   EncryptionMethod = "none"
	EncryptionSSHKey EncryptionMethod = "ssh_key"
)

// ErrPassphraseRequired is returned when the SSH key is encrypted and no
// passphrase was set.
var ErrPassphraseRequired = errors.New("SSH key is encrypted - passphrase required")

// EncryptionManager encrypts local data with AES-256-GCM under a key derived
// from an SSH private key. Provider API keys and stored sessions share it.
type EncryptionManager struct {
	method     EncryptionMethod
	sshKeyPath string
	passphrase string // Only needed for passphrase-protected keys
	aesKey     []byte // Derived once by Initialize
}

// NewEncryptionManager creates a manager; call Initialize before use.
func NewEncryptionManager(method EncryptionMethod, sshKeyPath string) *EncryptionManager {
	return &EncryptionManager{
		method:     method,
		sshKeyPath: sshKeyPath,
	}
}

// SetPassphrase sets the passphrase used to unlock the SSH key
func (e *EncryptionManager) SetPassphrase(passphrase string) {
	e.passphrase = passphrase
}

// Initialize loads the SSH key and derives the AES key.
// It fails with ErrPassphraseRequired for a protected key without a passphrase.
func (e *EncryptionManager) Initialize() error {
	switch e.method {
	case EncryptionNone:
		return nil
	case EncryptionSSHKey:
	default:
		return fmt.Errorf("unknown encryption method: %s", e.method)
	}

	// Parse only; decrypting needs the passphrase
	encrypted, err := IsSSHKeyEncrypted(e.sshKeyPath)
	if err != nil {
		return fmt.Errorf("failed to check SSH key: %w", err)
	}
	if Debug && DebugLog != nil {
		DebugLog.Printf("[EncryptionManager] Initialize: key encrypted=%v", encrypted)
	}
	// Bail out early so the caller can prompt and retry
	if encrypted && e.passphrase == "" {
		if Debug && DebugLog != nil {
			DebugLog.Printf("[EncryptionManager] Initialize: key is encrypted but no passphrase provided")
		}
		return ErrPassphraseRequired
	}

	// Load key (the passphrase is ignored for unencrypted keys)
	signer, err := LoadSSHSigner(e.sshKeyPath, e.passphrase)
	if err != nil {
		return fmt.Errorf("failed to load SSH key: %w", err)
	}
	// Derive AES key from SSH signature
	key, err := DeriveAESKeyFromSSH(signer)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}
	e.aesKey = key
	return nil
}

// Encrypt encrypts data using the configured method.
// With EncryptionNone the plaintext is returned unchanged.
func (e *EncryptionManager) Encrypt(plaintext []byte) ([]byte, error) {
	switch e.method {
	case EncryptionNone:
		return plaintext, nil
	case EncryptionSSHKey:
		if e.aesKey == nil {
			return nil, fmt.Errorf("encryption manager not initialized")
		}
		return encryptAESGCM(plaintext, e.aesKey)
	default:
		return nil, fmt.Errorf("unknown encryption method: %s", e.method)
	}
}

// Decrypt reverses Encrypt
func (e *EncryptionManager) Decrypt(ciphertext []byte) ([]byte, error) {
	switch e.method {
	case EncryptionNone:
		return ciphertext, nil
	case EncryptionSSHKey:
		if e.aesKey == nil {
			return nil, fmt.Errorf("encryption manager not initialized")
		}
		return decryptAESGCM(ciphertext, e.aesKey)
	default:
		return nil, fmt.Errorf("unknown encryption method: %s", e.method)
	}
}

// encryptAESGCM output is [nonce][ciphertext+tag].
func encryptAESGCM(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptAESGCM(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	// Nonce is prepended by encryptAESGCM
	n := gcm.NonceSize()
	if len(ciphertext) < n {
		return nil, fmt.Errorf("ciphertext too short")
	}
	// Open also verifies the tag, so a wrong key fails here
	plaintext, err := gcm.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveAESKeyFromSSH hashes the signature of a fixed message into a 32-byte
// key. Only deterministic signature schemes (ed25519, RSA PKCS#1 v1.5) give a
// stable key.
func DeriveAESKeyFromSSH(signer ssh.Signer) ([]byte, error) {
	signature, err := signer.Sign(rand.Reader, []byte("polychat-encryption-key-derivation-v1"))
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	hash := sha256.Sum256(signature.Blob)
	return hash[:], nil
}
