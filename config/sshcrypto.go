package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// LoadSSHSigner parses a private key, using passphrase when it is non-empty.
func LoadSSHSigner(keyPath, passphrase string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}
	if passphrase == "" {
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key (wrong passphrase?): %w", err)
	}
	return signer, nil
}

// IsSSHKeyEncrypted reports whether the key at keyPath needs a passphrase.
func IsSSHKeyEncrypted(keyPath string) (bool, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return false, fmt.Errorf("failed to read SSH key: %w", err)
	}
	_, err = ssh.ParsePrivateKey(keyData)
	if err == nil {
		return false, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return true, nil
	}
	return false, fmt.Errorf("invalid SSH key: %w", err)
}

// FindSSHKeys returns the private keys found under ~/.ssh, most preferred first.
func FindSSHKeys() []string {
	sshDir := filepath.Join(GetHomeDir(), ".ssh")

	var found []string
	for _, name := range []string{"polychat_ed25519", "id_ed25519", "id_rsa"} {
		path := filepath.Join(sshDir, name)
		if isPrivateKey(path) {
			found = append(found, path)
		}
	}
	return found
}

func isPrivateKey(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	content := string(data)
	return strings.Contains(content, "BEGIN") && strings.Contains(content, "PRIVATE KEY")
}
