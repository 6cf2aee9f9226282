package link

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"robosats/reputationd/internal/giftwrap"
	"robosats/reputationd/internal/identity"
	"robosats/reputationd/internal/keystore"
	"robosats/reputationd/internal/wire"
)

type capturePublisher struct {
	events []nostr.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, ev nostr.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func testNotary(t *testing.T) (secret, pub string) {
	t.Helper()
	secret = nostr.GeneratePrivateKey()
	pub, err := nostr.GetPublicKey(secret)
	if err != nil {
		t.Fatalf("notary pubkey: %v", err)
	}
	return secret, pub
}

func activeManager(t *testing.T) (*identity.Manager, identity.MasterIdentity) {
	t.Helper()
	mgr := identity.NewManager(keystore.NewMemoryStore())
	if err := mgr.SetEnabled(true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	id, err := mgr.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return mgr, id
}

func TestLinkIdentitiesSkipsWhenDisabled(t *testing.T) {
	mgr := identity.NewManager(keystore.NewMemoryStore())
	pub := &capturePublisher{}
	_, notaryPub := testNotary(t)
	linker := NewLinker(mgr, pub, nil, notaryPub, "")

	ephemeral, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	linker.LinkIdentities(context.Background(), ephemeral.SecretHex)
	if len(pub.events) != 0 {
		t.Fatalf("disabled reputation published %d events", len(pub.events))
	}
}

func TestLinkIdentitiesPublishesBothHalves(t *testing.T) {
	mgr, master := activeManager(t)
	pub := &capturePublisher{}
	notarySecret, notaryPub := testNotary(t)
	linker := NewLinker(mgr, pub, nil, notaryPub, "wss://relay.example")

	ephemeral, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	linker.LinkIdentities(context.Background(), ephemeral.SecretHex)
	if len(pub.events) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(pub.events))
	}

	for _, ev := range pub.events {
		if ev.Kind != wire.KindGiftWrap {
			t.Fatalf("published kind %d, want %d", ev.Kind, wire.KindGiftWrap)
		}
		if ev.PubKey == master.PublicHex || ev.PubKey == ephemeral.PublicHex {
			t.Fatal("outer envelope leaks a real identity")
		}
	}

	reqRumor, err := giftwrap.Unwrap(pub.events[0], notarySecret)
	if err != nil {
		t.Fatalf("unwrap request: %v", err)
	}
	if reqRumor.PubKey != ephemeral.PublicHex {
		t.Fatal("request rumor not authored by the ephemeral key")
	}
	var req wire.LinkRequest
	if err := json.Unmarshal([]byte(reqRumor.Content), &req); err != nil {
		t.Fatalf("request payload: %v", err)
	}
	if req.Type != wire.TypeLinkRequest || req.MasterPubkey != master.PublicHex || req.EphemeralPubkey != ephemeral.PublicHex {
		t.Fatalf("unexpected request payload: %+v", req)
	}

	confRumor, err := giftwrap.Unwrap(pub.events[1], notarySecret)
	if err != nil {
		t.Fatalf("unwrap confirm: %v", err)
	}
	if confRumor.PubKey != master.PublicHex {
		t.Fatal("confirm rumor not authored by the master key")
	}
	var conf wire.LinkConfirm
	if err := json.Unmarshal([]byte(confRumor.Content), &conf); err != nil {
		t.Fatalf("confirm payload: %v", err)
	}
	if conf.Type != wire.TypeLinkConfirm || conf.EphemeralPubkey != ephemeral.PublicHex {
		t.Fatalf("unexpected confirm payload: %+v", conf)
	}
}

func TestLinkIdentitiesSwallowsPublishFailures(t *testing.T) {
	mgr, _ := activeManager(t)
	pub := &capturePublisher{err: errors.New("relay down")}
	_, notaryPub := testNotary(t)
	linker := NewLinker(mgr, pub, nil, notaryPub, "")

	ephemeral, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	// Must not panic or block; failures are logged and dropped.
	linker.LinkIdentities(context.Background(), ephemeral.SecretHex)
}

func TestLinkIdentitiesRejectsBadEphemeralSecret(t *testing.T) {
	mgr, _ := activeManager(t)
	pub := &capturePublisher{}
	_, notaryPub := testNotary(t)
	linker := NewLinker(mgr, pub, nil, notaryPub, "")

	linker.LinkIdentities(context.Background(), "not-a-secret")
	if len(pub.events) != 0 {
		t.Fatalf("bad ephemeral secret still published %d events", len(pub.events))
	}
}
