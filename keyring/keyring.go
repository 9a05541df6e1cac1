// Package keyring provides secure credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/vpn-state/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "vpn-state"
	checkKey    = "vpn-state-check"
	keySalt     = "vpn-state credential file v1"
)

// Options configures a Store. The zero value tries the system keyring and
// keeps the fallback file in the config directory.
type Options struct {
	// Service is the keyring service name.
	Service string
	// File is the path of the encrypted fallback file.
	File string
	// Secret seeds the fallback encryption key. Defaults to host specific
	// data: hostname, machine id and user id.
	Secret []byte
	// FileOnly skips the system keyring.
	FileOnly bool
	Logger   common.Logger
}

// Store keeps profile passwords.
type Store struct {
	service string
	logger  common.Logger

	mu      sync.RWMutex
	useFile bool
	file    string
	key     []byte
	entries map[string]string
}

var _ common.CredentialStore = (*Store)(nil)

// New creates a Store. The system keyring is checked once; if it is not
// usable the encrypted file is used instead.
func New(opts Options) (*Store, error) {
	s := &Store{
		service: opts.Service,
		logger:  opts.Logger,
		file:    opts.File,
	}
	if s.service == "" {
		s.service = serviceName
	}
	if s.logger == nil {
		s.logger = common.GetLogger()
	}

	if !opts.FileOnly {
		err := keyring.Set(s.service, checkKey, "check")
		if err == nil {
			keyring.Delete(s.service, checkKey)
			return s, nil
		}
		s.logger.Warn("Keyring: system keyring unavailable, using encrypted file: %v", err)
	}

	if err := s.openFile(opts.Secret); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) openFile(secret []byte) error {
	if s.file == "" {
		dir, err := common.GetConfigDir()
		if err != nil {
			return err
		}
		s.file = filepath.Join(dir, common.CredentialsFileName)
	}
	if secret == nil {
		secret = hostSecret()
	}

	key, err := deriveKey(secret)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.useFile = true
	s.key = key
	s.entries = make(map[string]string)
	return s.load()
}

func hostSecret() []byte {
	hostname, _ := os.Hostname()
	return []byte(fmt.Sprintf("%s-%s-%d", hostname, machineID(), os.Getuid()))
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

// deriveKey stretches secret into an AES-256 key.
func deriveKey(secret []byte) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, []byte(keySalt), []byte("aes-256-gcm"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// load reads the fallback file. Callers hold s.mu.
func (s *Store) load() error {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	plaintext, err := s.decrypt(data)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	if err := json.Unmarshal(plaintext, &s.entries); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return nil
}

// save writes the fallback file. Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	encrypted, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.file), 0700); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	if err := os.WriteFile(s.file, encrypted, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// UsesFile reports whether the encrypted file backs the store.
func (s *Store) UsesFile() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.useFile
}

// Store saves a password for a VPN profile.
func (s *Store) Store(profileID, password string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	if !s.UsesFile() {
		err := keyring.Set(s.service, profileID, password)
		if err == nil {
			return nil
		}
		s.logger.Warn("Keyring: store failed, switching to encrypted file: %v", err)
		if err := s.openFile(nil); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[profileID] = password
	return s.save()
}

// Get retrieves a password for a VPN profile. It returns
// common.ErrCredentialsNotFound when none is stored.
func (s *Store) Get(profileID string) (string, error) {
	if profileID == "" {
		return "", errors.New("profile ID cannot be empty")
	}

	if s.UsesFile() {
		s.mu.RLock()
		password, ok := s.entries[profileID]
		s.mu.RUnlock()
		if !ok {
			return "", common.ErrCredentialsNotFound
		}
		return password, nil
	}

	password, err := keyring.Get(s.service, profileID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", common.ErrCredentialsNotFound
		}
		return "", fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return password, nil
}

// Delete removes a password for a VPN profile. Deleting a missing entry is
// not an error.
func (s *Store) Delete(profileID string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}

	if s.UsesFile() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.entries[profileID]; !ok {
			return nil
		}
		delete(s.entries, profileID)
		return s.save()
	}

	if err := keyring.Delete(s.service, profileID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

// Exists checks if a credential exists for a VPN profile.
func (s *Store) Exists(profileID string) bool {
	_, err := s.Get(profileID)
	return err == nil
}
