// Package identity owns the lifecycle of the long-lived master reputation
// keypair: the opt-in flag, generation, import, backup export and the one-time
// migration from the legacy trade-token derivation. At most one master
// identity exists per device profile; disabling reputation suppresses protocol
// use but never deletes key material.
package identity

import (
	"crypto/sha256"
	"strings"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"

	"robosats/reputationd/internal/keystore"
)

// MasterIdentity is the materialized master keypair with its encoded forms.
type MasterIdentity struct {
	SecretHex string
	PublicHex string
	Nsec      string
	Npub      string
}

// Backup is the export projection handed to the user for safekeeping.
type Backup struct {
	PublicHex string
	Npub      string
	Nsec      string
	// Mnemonic is the BIP-39 rendering of the 32-byte secret, for paper backup.
	Mnemonic string
}

// Manager caches the enabled flag and the materialized key for the process
// lifetime; first access reads from the store, later access uses the cache.
type Manager struct {
	mu        sync.RWMutex
	store     keystore.Store
	enabled   *bool
	master    *MasterIdentity
	listeners []func()
}

func NewManager(store keystore.Store) *Manager {
	return &Manager{store: store}
}

// Subscribe registers fn to run after every state change (flag or key). The
// callback must not call back into the manager.
func (m *Manager) Subscribe(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// IsEnabled reports the persisted opt-in flag; reputation defaults to off.
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	if m.enabled != nil {
		v := *m.enabled
		m.mu.RUnlock()
		return v
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled != nil {
		return *m.enabled
	}
	v := false
	if raw, ok, err := m.store.GetItem(keystore.ItemEnabled); err == nil && ok {
		v = raw == "1"
	}
	m.enabled = &v
	return v
}

// SetEnabled persists the flag. It never creates or destroys key material.
func (m *Manager) SetEnabled(enabled bool) error {
	raw := "0"
	if enabled {
		raw = "1"
	}
	m.mu.Lock()
	if err := m.store.SetItem(keystore.ItemEnabled, raw); err != nil {
		m.mu.Unlock()
		return err
	}
	v := enabled
	m.enabled = &v
	m.mu.Unlock()
	m.notify()
	return nil
}

// HasMasterKey reports whether a key is present or still derivable from the
// legacy token, i.e. whether setup should offer backup instead of generate.
func (m *Manager) HasMasterKey() bool {
	m.mu.RLock()
	cached := m.master != nil
	m.mu.RUnlock()
	if cached {
		return true
	}
	if _, ok, err := m.store.GetItem(keystore.ItemMasterNsec); err == nil && ok {
		return true
	}
	if token, ok, err := m.store.GetItem(keystore.ItemRobotToken); err == nil && ok && legacyTokenUsable(token) {
		return true
	}
	return false
}

// EnsureMasterKey lazily materializes the key from the store, migrating from
// the legacy derivation exactly once if no native key exists yet. It is
// idempotent: a native key is never re-derived.
func (m *Manager) EnsureMasterKey() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.ensureLocked()
	return err
}

// MasterIdentity returns the key and its encoded forms, or ok=false when
// reputation is disabled or no key can be materialized. A false result means
// "reputation unavailable", never an error condition.
func (m *Manager) MasterIdentity() (MasterIdentity, bool) {
	if !m.IsEnabled() {
		return MasterIdentity{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.ensureLocked()
	if err != nil || id == nil {
		return MasterIdentity{}, false
	}
	return *id, true
}

// Generate overwrites any existing native key with fresh randomness.
func (m *Manager) Generate() (MasterIdentity, error) {
	kp, err := GenerateKeypair()
	if err != nil {
		return MasterIdentity{}, err
	}
	id, err := materialize(kp)
	if err != nil {
		return MasterIdentity{}, err
	}
	m.mu.Lock()
	if err := m.store.SetItem(keystore.ItemMasterNsec, id.Nsec); err != nil {
		m.mu.Unlock()
		return MasterIdentity{}, err
	}
	m.master = &id
	m.mu.Unlock()
	m.notify()
	return id, nil
}

// ImportSecret validates the encoded secret before touching any state; a
// malformed input leaves the stored key byte-for-byte unchanged and returns
// false. Decoding problems never escape as errors.
func (m *Manager) ImportSecret(encoded string) bool {
	secretHex, err := DecodeSecret(encoded)
	if err != nil {
		return false
	}
	kp, err := KeypairFromSecretHex(secretHex)
	if err != nil {
		return false
	}
	id, err := materialize(kp)
	if err != nil {
		return false
	}
	m.mu.Lock()
	if err := m.store.SetItem(keystore.ItemMasterNsec, id.Nsec); err != nil {
		m.mu.Unlock()
		return false
	}
	m.master = &id
	m.mu.Unlock()
	m.notify()
	return true
}

// ExportBackup is a pure projection of the current key; it performs no
// persistence of its own. ok=false when no key is materializable.
func (m *Manager) ExportBackup() (Backup, bool) {
	m.mu.Lock()
	id, err := m.ensureLocked()
	m.mu.Unlock()
	if err != nil || id == nil {
		return Backup{}, false
	}
	backup := Backup{
		PublicHex: id.PublicHex,
		Npub:      id.Npub,
		Nsec:      id.Nsec,
	}
	if raw, err := hexBytes(id.SecretHex); err == nil {
		if mnemonic, err := bip39.NewMnemonic(raw); err == nil {
			backup.Mnemonic = mnemonic
		}
	}
	return backup, true
}

// DeleteMasterKey destroys the native key. Only explicit user action reaches
// here; disabling reputation never does.
func (m *Manager) DeleteMasterKey() error {
	m.mu.Lock()
	if err := m.store.DeleteItem(keystore.ItemMasterNsec); err != nil {
		m.mu.Unlock()
		return err
	}
	m.master = nil
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Manager) ensureLocked() (*MasterIdentity, error) {
	if m.master != nil {
		return m.master, nil
	}
	if nsec, ok, err := m.store.GetItem(keystore.ItemMasterNsec); err == nil && ok {
		secretHex, err := DecodeSecret(nsec)
		if err != nil {
			return nil, err
		}
		kp, err := KeypairFromSecretHex(secretHex)
		if err != nil {
			return nil, err
		}
		id, err := materialize(kp)
		if err != nil {
			return nil, err
		}
		m.master = &id
		return m.master, nil
	}

	// No native key: attempt the one-time legacy migration.
	token, ok, err := m.store.GetItem(keystore.ItemRobotToken)
	if err != nil || !ok || !legacyTokenUsable(token) {
		return nil, nil
	}
	kp, err := legacyDerive(token)
	if err != nil {
		return nil, err
	}
	id, err := materialize(kp)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetItem(keystore.ItemMasterNsec, id.Nsec); err != nil {
		return nil, err
	}
	m.master = &id
	return m.master, nil
}

func (m *Manager) notify() {
	m.mu.RLock()
	listeners := append([]func(){}, m.listeners...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func materialize(kp Keypair) (MasterIdentity, error) {
	nsec, err := EncodeNsec(kp.SecretHex)
	if err != nil {
		return MasterIdentity{}, err
	}
	npub, err := EncodeNpub(kp.PublicHex)
	if err != nil {
		return MasterIdentity{}, err
	}
	return MasterIdentity{
		SecretHex: kp.SecretHex,
		PublicHex: kp.PublicHex,
		Nsec:      nsec,
		Npub:      npub,
	}, nil
}

// legacyDerive maps the stored trade token to a secret via a fixed two-stage
// hash; the scalar reduction makes the result a valid key for any input.
func legacyDerive(token string) (Keypair, error) {
	first := sha256.Sum256([]byte(strings.TrimSpace(token)))
	second := sha256.Sum256(first[:])
	priv := secp256k1.PrivKeyFromBytes(second[:])
	defer priv.Zero()
	return KeypairFromSecretHex(hexString(priv.Serialize()))
}

// legacyTokenUsable keeps garbage out of the migration path. Legacy trade
// tokens are generated client-side from an alphanumeric alphabet; anything
// short or containing non-alphanumerics is not a token.
func legacyTokenUsable(token string) bool {
	token = strings.TrimSpace(token)
	if len(token) < 16 {
		return false
	}
	for _, r := range token {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
