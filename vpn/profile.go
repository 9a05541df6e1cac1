package vpn

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-state/common"
)

// Profile is the configuration of one VPN connection. The state service only
// carries it; the daemon interprets it.
type Profile struct {
	// ID is a unique identifier for the profile (UUID format).
	ID string `json:"id" yaml:"id"`
	// Name is a human-readable name for the profile.
	Name string `json:"name" yaml:"name"`
	// Gateway is the host name or address of the VPN gateway.
	Gateway string `json:"gateway" yaml:"gateway"`
	// Username is the optional username for EAP authentication.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	// RemoteID overrides the identity expected from the gateway.
	RemoteID string `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	// CertificateAlias names a client certificate for certificate auth.
	CertificateAlias string `json:"certificate_alias,omitempty" yaml:"certificate_alias,omitempty"`
	// SavePassword indicates whether to save the password in the keyring.
	SavePassword bool `json:"save_password" yaml:"save_password"`
	// AutoConnect indicates whether to connect automatically on startup.
	AutoConnect bool `json:"auto_connect" yaml:"auto_connect"`
	Created     time.Time `json:"created" yaml:"created"`
	LastUsed    time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
}

// DisplayName returns the name shown to the user. It is safe to call on a
// nil profile.
func (p *Profile) DisplayName() string {
	switch {
	case p == nil:
		return "no profile"
	case p.Name != "":
		return p.Name
	default:
		return p.Gateway
	}
}

// Validate checks if the profile has all required fields.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", common.ErrInvalidProfile)
	}
	if strings.TrimSpace(p.Gateway) == "" {
		return fmt.Errorf("%w: gateway is required", common.ErrInvalidProfile)
	}
	if strings.ContainsAny(p.Gateway, " \t/") {
		return fmt.Errorf("%w: gateway %q is not a host name", common.ErrInvalidProfile, p.Gateway)
	}
	if p.ID != "" {
		if _, err := uuid.Parse(p.ID); err != nil {
			return fmt.Errorf("%w: id %q: %v", common.ErrInvalidProfile, p.ID, err)
		}
	}
	return nil
}

// ProfileManager manages VPN profiles stored as a YAML list on disk.
type ProfileManager struct {
	mu       sync.RWMutex
	profiles []*Profile
	file     string
}

// NewProfileManager creates a ProfileManager that keeps its profiles in dir
// and loads the existing ones.
func NewProfileManager(dir string) (*ProfileManager, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	pm := &ProfileManager{
		file: filepath.Join(dir, common.ProfilesFileName),
	}
	if err := pm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	return pm, nil
}

// Load reads profiles from disk. A missing file means no profiles yet.
func (pm *ProfileManager) Load() error {
	data, err := os.ReadFile(pm.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	var profiles []*Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}

	pm.mu.Lock()
	pm.profiles = profiles
	pm.mu.Unlock()
	return nil
}

// Save persists profiles to disk.
func (pm *ProfileManager) Save() error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.save()
}

func (pm *ProfileManager) save() error {
	data, err := yaml.Marshal(pm.profiles)
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}
	if err := os.WriteFile(pm.file, data, 0600); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}
	return nil
}

// Add validates profile, assigns an ID if needed and stores it.
func (pm *ProfileManager) Add(profile *Profile) error {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, p := range pm.profiles {
		if p.ID == profile.ID {
			return fmt.Errorf("%w: id %s", common.ErrDuplicateName, profile.ID)
		}
		if strings.EqualFold(p.Name, profile.Name) {
			return fmt.Errorf("%w: %s", common.ErrDuplicateName, profile.Name)
		}
	}

	profile.Created = time.Now()
	pm.profiles = append(pm.profiles, profile)
	return pm.save()
}

// Remove removes a profile by ID.
func (pm *ProfileManager) Remove(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for i, profile := range pm.profiles {
		if profile.ID == id {
			pm.profiles = append(pm.profiles[:i], pm.profiles[i+1:]...)
			return pm.save()
		}
	}
	return common.ErrProfileNotFound
}

// Get retrieves a profile by ID.
func (pm *ProfileManager) Get(id string) (*Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for _, profile := range pm.profiles {
		if profile.ID == id {
			return profile, nil
		}
	}
	return nil, common.ErrProfileNotFound
}

// GetByName retrieves a profile by name, ignoring case.
func (pm *ProfileManager) GetByName(name string) (*Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for _, profile := range pm.profiles {
		if strings.EqualFold(profile.Name, name) {
			return profile, nil
		}
	}
	return nil, common.ErrProfileNotFound
}

// Find looks a profile up by ID or name, as typed on the command line.
func (pm *ProfileManager) Find(ref string) (*Profile, error) {
	if p, err := pm.Get(ref); err == nil {
		return p, nil
	}
	return pm.GetByName(ref)
}

// List returns all profiles.
func (pm *ProfileManager) List() []*Profile {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]*Profile, len(pm.profiles))
	copy(out, pm.profiles)
	return out
}

// Update replaces an existing profile.
func (pm *ProfileManager) Update(profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for i, p := range pm.profiles {
		if p.ID == profile.ID {
			pm.profiles[i] = profile
			return pm.save()
		}
	}
	return common.ErrProfileNotFound
}

// MarkUsed updates the LastUsed timestamp for a profile.
func (pm *ProfileManager) MarkUsed(id string) error {
	profile, err := pm.Get(id)
	if err != nil {
		return err
	}
	updated := *profile
	updated.LastUsed = time.Now()
	return pm.Update(&updated)
}
