package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
)

// SecurityMethod defines the credential storage method
type SecurityMethod string

const (
	SecurityPlainText SecurityMethod = "plaintext"
	SecuritySSHKey    SecurityMethod = "ssh_key"
)

// SearchCredential is the credential id of the Custom Search API key.
const SearchCredential = "search"

// CredentialStore holds API keys by provider id, stored either as plain TOML
// or encrypted with a key derived from an SSH key.
type CredentialStore struct {
	mu          sync.RWMutex
	method      SecurityMethod
	credentials map[string]string
	sshKeyPath  string
	passphrase  string
	encManager  *EncryptionManager
}

func NewCredentialStore(method SecurityMethod, sshKeyPath string) *CredentialStore {
	if method == "" {
		method = SecurityPlainText
	}
	return &CredentialStore{
		method:      method,
		credentials: make(map[string]string),
		sshKeyPath:  sshKeyPath,
	}
}

// SetPassphrase sets the passphrase for an encrypted SSH key.
func (c *CredentialStore) SetPassphrase(passphrase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passphrase = passphrase
	c.encManager = nil
}

func (c *CredentialStore) Method() SecurityMethod {
	return c.method
}

func (c *CredentialStore) Load(dataDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		creds map[string]string
		err   error
	)
	switch c.method {
	case SecurityPlainText:
		creds, err = loadPlainText(credentialsPath(dataDir))
	case SecuritySSHKey:
		creds, err = c.loadEncrypted(encryptedCredentialsPath(dataDir))
	default:
		return fmt.Errorf("unknown security method: %s", c.method)
	}
	if err != nil {
		return err
	}
	if creds == nil {
		creds = make(map[string]string)
	}
	c.credentials = creds
	return nil
}

func (c *CredentialStore) Save(dataDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.method {
	case SecurityPlainText:
		return savePlainText(credentialsPath(dataDir), c.credentials)
	case SecuritySSHKey:
		return c.saveEncrypted(encryptedCredentialsPath(dataDir))
	default:
		return fmt.Errorf("unknown security method: %s", c.method)
	}
}

func (c *CredentialStore) Get(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credentials[id]
}

func (c *CredentialStore) Set(id, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials[id] = apiKey
}

func (c *CredentialStore) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.credentials, id)
}

// IDs lists the stored credential ids, sorted.
func (c *CredentialStore) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.credentials))
	for id := range c.credentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func credentialsPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.toml")
}

func encryptedCredentialsPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.enc")
}

type credentialsFile struct {
	Credentials map[string]string `toml:"credentials"`
}

func loadPlainText(path string) (map[string]string, error) {
	if !FileExists(path) {
		return nil, nil
	}
	var cf credentialsFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return cf.Credentials, nil
}

func savePlainText(path string, creds map[string]string) error {
	return encodeFile(path, credentialsFile{Credentials: creds})
}

// manager returns the encryption manager, initializing it on first use.
// Callers hold c.mu.
func (c *CredentialStore) manager() (*EncryptionManager, error) {
	if c.encManager != nil {
		return c.encManager, nil
	}
	m := NewEncryptionManager(EncryptionSSHKey, c.sshKeyPath)
	m.SetPassphrase(c.passphrase)
	if err := m.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	c.encManager = m
	return m, nil
}

func (c *CredentialStore) loadEncrypted(path string) (map[string]string, error) {
	if !FileExists(path) {
		return nil, nil
	}
	m, err := c.manager()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encrypted credentials: %w", err)
	}
	plain, err := m.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds map[string]string
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted credentials: %w", err)
	}
	return creds, nil
}

func (c *CredentialStore) saveEncrypted(path string) error {
	m, err := c.manager()
	if err != nil {
		return err
	}

	plain, err := json.Marshal(c.credentials)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	data, err := m.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write encrypted credentials: %w", err)
	}
	return nil
}
