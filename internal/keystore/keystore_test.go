package keystore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	if _, ok, _ := s.GetItem(ItemEnabled); ok {
		t.Fatal("empty store reported an item")
	}
	if err := s.SetItem(ItemEnabled, "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.GetItem(ItemEnabled)
	if err != nil || !ok || v != "1" {
		t.Fatalf("get = %q %t %v", v, ok, err)
	}
	if err := s.DeleteItem(ItemEnabled); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetItem(ItemEnabled); ok {
		t.Fatal("item survived delete")
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "keystore")
	s := NewFileStore(path, "correct horse")
	if err := s.SetItem(ItemMasterNsec, "nsec1example"); err != nil {
		t.Fatalf("set: %v", err)
	}

	reopened := NewFileStore(path, "correct horse")
	v, ok, err := reopened.GetItem(ItemMasterNsec)
	if err != nil || !ok || v != "nsec1example" {
		t.Fatalf("reopened get = %q %t %v", v, ok, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if strings.Contains(string(raw), "nsec1example") {
		t.Fatal("snapshot stores the secret in plaintext")
	}
	if !strings.HasPrefix(string(raw), filePrefix) {
		t.Fatal("snapshot missing envelope prefix")
	}
}

func TestFileStoreRejectsWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore")
	s := NewFileStore(path, "right")
	if err := s.SetItem(ItemEnabled, "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	wrong := NewFileStore(path, "wrong")
	if _, _, err := wrong.GetItem(ItemEnabled); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestFileStoreRequiresConfiguration(t *testing.T) {
	s := NewFileStore("", "")
	if _, _, err := s.GetItem(ItemEnabled); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestEnvelopeRejectsTampering(t *testing.T) {
	sealed, err := Encrypt("pass", []byte(`{"version":1}`))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, err := Decrypt("pass", sealed)
	if err != nil || string(opened) != `{"version":1}` {
		t.Fatalf("decrypt round trip failed: %q %v", opened, err)
	}

	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)-2] ^= 0x01
	if _, err := Decrypt("pass", flipped); err == nil {
		t.Fatal("tampered envelope decrypted")
	}
	if _, err := Decrypt("pass", []byte("not an envelope")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
