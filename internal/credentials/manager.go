// Package credentials stores backend secrets outside the profile index.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dl-alexandre/pullsync/internal/utils"
)

// Mode selects the backing store.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeKeyring Mode = "keyring"
	ModeFile    Mode = "file"
)

// ParseMode accepts "", auto, keyring and file.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeKeyring, ModeFile:
		return m, nil
	default:
		return "", fmt.Errorf("invalid credential store %q (valid: auto, keyring, file)", s)
	}
}

// Manager saves secret settings per profile.
type Manager struct {
	store   Store
	warning string
}

// NewManager picks a store for mode. In auto mode the keyring is preferred and
// the encrypted file store under configDir is the fallback.
func NewManager(configDir string, mode Mode) (*Manager, error) {
	switch mode {
	case ModeKeyring:
		if !keyringAvailable(utils.KeyringService) {
			return nil, errors.New("system keyring is not available")
		}
		return NewManagerWithStore(NewKeyringStore(utils.KeyringService)), nil
	case ModeFile:
		store, err := NewEncryptedFileStore(configDir)
		if err != nil {
			return nil, err
		}
		return NewManagerWithStore(store), nil
	case ModeAuto, "":
		if keyringAvailable(utils.KeyringService) {
			return NewManagerWithStore(NewKeyringStore(utils.KeyringService)), nil
		}
		store, err := NewEncryptedFileStore(configDir)
		if err != nil {
			return nil, err
		}
		mgr := NewManagerWithStore(store)
		mgr.warning = "INFO: System keyring not available. Using encrypted file storage."
		return mgr, nil
	default:
		return nil, fmt.Errorf("invalid credential store %q", mode)
	}
}

func NewManagerWithStore(store Store) *Manager {
	return &Manager{store: store}
}

// Backend names the store in use.
func (m *Manager) Backend() string {
	return m.store.Name()
}

// Warning is set when auto mode fell back to file storage.
func (m *Manager) Warning() string {
	return m.warning
}

// SaveSecrets replaces the secrets of profile. Empty values are dropped; an empty
// map deletes whatever was stored.
func (m *Manager) SaveSecrets(profile string, secrets map[string]string) error {
	clean := make(map[string]string, len(secrets))
	for k, v := range secrets {
		if v != "" {
			clean[k] = v
		}
	}
	if len(clean) == 0 {
		return m.DeleteSecrets(profile)
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return err
	}
	if err := m.store.Save(profile, data); err != nil {
		return fmt.Errorf("save credentials for profile '%s': %w", profile, err)
	}
	return nil
}

// LoadSecrets returns the secrets of profile, or an empty map when none are stored.
func (m *Manager) LoadSecrets(profile string) (map[string]string, error) {
	data, err := m.store.Load(profile)
	if errors.Is(err, ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	secrets := map[string]string{}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("decode credentials for profile '%s': %w", profile, err)
	}
	return secrets, nil
}

func (m *Manager) DeleteSecrets(profile string) error {
	return m.store.Delete(profile)
}

// Split moves the keys listed in secretKeys out of settings.
func Split(settings map[string]string, secretKeys []string) (plain, secret map[string]string) {
	plain = make(map[string]string, len(settings))
	secret = make(map[string]string)
	isSecret := make(map[string]bool, len(secretKeys))
	for _, k := range secretKeys {
		isSecret[k] = true
	}
	for k, v := range settings {
		if isSecret[k] {
			secret[k] = v
		} else {
			plain[k] = v
		}
	}
	return plain, secret
}

// Merge overlays secret onto a copy of plain.
func Merge(plain, secret map[string]string) map[string]string {
	out := make(map[string]string, len(plain)+len(secret))
	for k, v := range plain {
		out[k] = v
	}
	for k, v := range secret {
		out[k] = v
	}
	return out
}

// Keys lists map keys in order, for display without values.
func Keys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
