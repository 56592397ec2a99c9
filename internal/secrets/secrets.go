package secrets

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/gpurig/gpurig/internal/conventions"
	"github.com/gpurig/gpurig/internal/model"
)

// Store manages checkout credentials on local disk. Keys live under the data
// directory, are only ever readable by the daemon user, and leave the machine
// only as a read-only mount into a checkout sandbox.
type Store struct {
	dataDir string
}

// NewStore creates a new credential store rooted at the gpurig data directory.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// KeyPath returns the path of a named credential.
func (s *Store) KeyPath(name string) string {
	return conventions.KeyPath(s.dataDir, name)
}

// Add validates and installs a private key under name. The key must parse as
// an OpenSSH private key.
func (s *Store) Add(name string, keyData []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if _, err := ssh.ParsePrivateKey(keyData); err != nil {
		return fmt.Errorf("key does not parse as an ssh private key: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(s.dataDir, conventions.KeysDir), 0o700); err != nil {
		return fmt.Errorf("could not create keys directory: %w", err)
	}

	if err := os.WriteFile(s.KeyPath(name), keyData, 0o600); err != nil {
		return fmt.Errorf("could not write key: %w", err)
	}

	return nil
}

// Generate creates a new Ed25519 credential under name and returns the
// public key in authorized_keys format, ready to register with the git host.
func (s *Store) Generate(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if _, err := os.Stat(s.KeyPath(name)); err == nil {
		return "", fmt.Errorf("credential %q: %w", name, model.ErrAlreadyExists)
	}

	if err := os.MkdirAll(filepath.Join(s.dataDir, conventions.KeysDir), 0o700); err != nil {
		return "", fmt.Errorf("could not create keys directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("could not generate ed25519 key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return "", fmt.Errorf("could not convert to ssh public key: %w", err)
	}

	privKeyBytes, err := ssh.MarshalPrivateKey(privKey, "gpurig-generated-key")
	if err != nil {
		return "", fmt.Errorf("could not marshal private key: %w", err)
	}

	privKeyPath := s.KeyPath(name)
	if err := os.WriteFile(privKeyPath, pem.EncodeToMemory(privKeyBytes), 0o600); err != nil {
		return "", fmt.Errorf("could not write private key: %w", err)
	}

	publicKeyAuthorized := string(ssh.MarshalAuthorizedKey(sshPubKey))
	if err := os.WriteFile(privKeyPath+".pub", []byte(publicKeyAuthorized), 0o644); err != nil {
		os.Remove(privKeyPath)
		return "", fmt.Errorf("could not write public key: %w", err)
	}

	return publicKeyAuthorized, nil
}

// Load reads a named credential. It refuses keys whose file permissions allow
// access beyond the daemon user.
func (s *Store) Load(name string) (*Credential, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	path := s.KeyPath(name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("credential %q: %w", name, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not stat key: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("key %s permissions are too open (%o): %w", path, info.Mode().Perm(), model.ErrNotValid)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read key: %w", err)
	}
	if _, err := ssh.ParsePrivateKey(data); err != nil {
		return nil, fmt.Errorf("key does not parse as an ssh private key: %w", err)
	}

	return NewCredential(name, data), nil
}

// List returns the names of the stored credentials, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, conventions.KeysDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read keys directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".pub") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return names, nil
}

// Remove deletes a named credential.
func (s *Store) Remove(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	err := os.Remove(s.KeyPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("credential %q: %w", name, model.ErrNotFound)
		}
		return fmt.Errorf("could not remove key: %w", err)
	}

	// Generated credentials carry a public half alongside.
	_ = os.Remove(s.KeyPath(name) + ".pub")

	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("credential name is required: %w", model.ErrNotValid)
	}
	// Names become file names, keep them from escaping the keys directory.
	if filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("credential name %q is not a plain file name: %w", name, model.ErrNotValid)
	}
	return nil
}

// Credential is a private key loaded for a single checkout. Destroy wipes the
// in-memory copy, call it as soon as the checkout finishes.
type Credential struct {
	name string
	mu   sync.Mutex
	data []byte
}

// NewCredential wraps key material in a destroyable credential. The credential
// takes ownership of data.
func NewCredential(name string, data []byte) *Credential {
	return &Credential{name: name, data: data}
}

// Name returns the credential name.
func (c *Credential) Name() string {
	return c.name
}

// Bytes returns the key material, nil once destroyed.
func (c *Credential) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// Destroy zeroes the key material. Safe to call more than once.
func (c *Credential) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.data {
		c.data[i] = 0
	}
	c.data = nil
}

// Destroyed reports whether Destroy ran.
func (c *Credential) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data == nil
}

// WipeFile overwrites a file with zeros, syncs it and removes it. Removing a
// file that is already gone is not an error.
func WipeFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not stat %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("could not open %s for wiping: %w", path, err)
	}
	zeros := make([]byte, info.Size())
	_, werr := f.Write(zeros)
	serr := f.Sync()
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("could not overwrite %s: %w", path, werr)
	}
	if serr != nil {
		return fmt.Errorf("could not sync %s: %w", path, serr)
	}
	if cerr != nil {
		return fmt.Errorf("could not close %s: %w", path, cerr)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("could not remove %s: %w", path, err)
	}

	return nil
}
