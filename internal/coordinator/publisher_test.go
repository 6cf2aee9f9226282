package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"robosats/reputationd/internal/wire"
)

type capturePublisher struct {
	events []nostr.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev nostr.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *capturePublisher, string) {
	t.Helper()
	secret := nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(secret)
	if err != nil {
		t.Fatalf("pubkey: %v", err)
	}
	sink := &capturePublisher{}
	coord, err := New(secret, sink, nil, wire.NetworkTestnet)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return coord, sink, pubkey
}

func buyerPubkey(t *testing.T) string {
	t.Helper()
	pub, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("buyer pubkey: %v", err)
	}
	return pub
}

func TestPublishSuccessReceiptShape(t *testing.T) {
	coord, sink, coordPub := newTestCoordinator(t)
	buyer := buyerPubkey(t)
	completed := time.Now().Add(-48 * time.Hour)

	if err := coord.PublishSuccessReceipt(context.Background(), buyer, false, completed); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Kind != wire.KindSuccessReceipt {
		t.Fatalf("kind = %d", ev.Kind)
	}
	if ev.PubKey != coordPub {
		t.Fatal("receipt not signed by the coordinator key")
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		t.Fatalf("bad signature: %v", err)
	}
	if int64(ev.CreatedAt) != completed.Unix() {
		t.Fatal("created_at does not reflect completion time")
	}
	if wire.TagValue(ev, wire.TagSubject) != buyer {
		t.Fatal("missing buyer p tag")
	}
	if wire.TagValue(ev, wire.TagNetwork) != wire.NetworkTestnet {
		t.Fatal("missing net tag")
	}
	if wire.TagValue(ev, wire.TagVersion) != wire.ProtocolVersion {
		t.Fatal("missing v tag")
	}
	if wire.TagValue(ev, wire.TagDedup) == "" {
		t.Fatal("missing d tag")
	}
	if ev.Content != "" {
		t.Fatal("receipts must carry no content")
	}
}

func TestSuccessReceiptsAreDistinctEvents(t *testing.T) {
	coord, sink, _ := newTestCoordinator(t)
	buyer := buyerPubkey(t)
	for i := 0; i < 3; i++ {
		if err := coord.PublishSuccessReceipt(context.Background(), buyer, false, time.Now()); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	seen := map[string]bool{}
	for _, ev := range sink.events {
		d := wire.TagValue(ev, wire.TagDedup)
		if seen[d] {
			t.Fatalf("duplicate d tag %q would collapse receipts", d)
		}
		seen[d] = true
	}
}

func TestPublishSuccessReceiptSkipsSwaps(t *testing.T) {
	coord, sink, _ := newTestCoordinator(t)
	if err := coord.PublishSuccessReceipt(context.Background(), buyerPubkey(t), true, time.Now()); err != nil {
		t.Fatalf("swap should be a silent skip: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatal("swap produced a receipt")
	}
}

func TestPublishSuccessReceiptRequiresBuyerPubkey(t *testing.T) {
	coord, sink, _ := newTestCoordinator(t)
	err := coord.PublishSuccessReceipt(context.Background(), "", false, time.Now())
	if !errors.Is(err, ErrNoBuyerPubkey) {
		t.Fatalf("expected ErrNoBuyerPubkey, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatal("event published despite missing pubkey")
	}
}

func TestPublishScamReportShape(t *testing.T) {
	coord, sink, _ := newTestCoordinator(t)
	buyer := buyerPubkey(t)

	if err := coord.PublishScamReport(context.Background(), buyer, "dispute 1234 lost"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := sink.events[0]
	if ev.Kind != wire.KindScamReport {
		t.Fatalf("kind = %d", ev.Kind)
	}
	if got := wire.TagValue(ev, wire.TagDedup); got != wire.NetworkTestnet+":"+buyer {
		t.Fatalf("d tag = %q, republished reports must replace", got)
	}
	if wire.TagValue(ev, wire.TagReport) != "scammer" {
		t.Fatal("missing report tag")
	}
	if ev.Content != "dispute 1234 lost" {
		t.Fatal("note not carried in content")
	}
}

func TestNewRejectsUnknownNetwork(t *testing.T) {
	if _, err := New(nostr.GeneratePrivateKey(), &capturePublisher{}, nil, "signet"); !errors.Is(err, ErrBadNetwork) {
		t.Fatalf("expected ErrBadNetwork, got %v", err)
	}
}
