package badge

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"robosats/reputationd/internal/relay"
	"robosats/reputationd/internal/wire"
)

type fakeSubscriber struct {
	handlers     relay.Handlers
	subscribed   []string
	unsubscribed []string
	filter       nostr.Filter
}

func (f *fakeSubscriber) Subscribe(_ context.Context, id string, filter nostr.Filter, handlers relay.Handlers) error {
	f.subscribed = append(f.subscribed, id)
	f.filter = filter
	f.handlers = handlers
	return nil
}

func (f *fakeSubscriber) Unsubscribe(id string) {
	f.unsubscribed = append(f.unsubscribed, id)
}

func badgeEvent(t *testing.T, notarySecret, subject, network, tier string, reported bool, createdAt int64) nostr.Event {
	t.Helper()
	tags := nostr.Tags{
		{wire.TagDedup, network + ":" + subject},
		{wire.TagSubject, subject},
		{wire.TagTier, tier},
		{wire.TagVersion, wire.ProtocolVersion},
	}
	if network != "" {
		tags = append(tags, nostr.Tag{wire.TagNetwork, network})
	}
	if reported {
		tags = append(tags, nostr.Tag{wire.TagReported, "1"})
	}
	ev := nostr.Event{
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      wire.KindBadge,
		Tags:      tags,
		Content:   "",
	}
	if err := ev.Sign(notarySecret); err != nil {
		t.Fatalf("sign badge: %v", err)
	}
	return ev
}

func startedWatcher(t *testing.T) (*Watcher, *fakeSubscriber, string, string) {
	t.Helper()
	notarySecret := nostr.GeneratePrivateKey()
	notaryPub, err := nostr.GetPublicKey(notarySecret)
	if err != nil {
		t.Fatalf("notary pubkey: %v", err)
	}
	subjectSecret := nostr.GeneratePrivateKey()
	subject, err := nostr.GetPublicKey(subjectSecret)
	if err != nil {
		t.Fatalf("subject pubkey: %v", err)
	}
	sub := &fakeSubscriber{}
	w := NewWatcher(sub, nil, notaryPub, subject, wire.NetworkTestnet, "")
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return w, sub, notarySecret, subject
}

func TestWatcherFilterTargetsNotaryAndSubject(t *testing.T) {
	_, sub, _, subject := startedWatcher(t)
	if len(sub.subscribed) != 1 {
		t.Fatalf("expected one subscription, got %d", len(sub.subscribed))
	}
	if len(sub.filter.Kinds) != 1 || sub.filter.Kinds[0] != wire.KindBadge {
		t.Fatalf("filter kinds = %v", sub.filter.Kinds)
	}
	if got := sub.filter.Tags["p"]; len(got) != 1 || got[0] != subject {
		t.Fatalf("filter p tag = %v", got)
	}
}

func TestWatcherFoldsValidBadge(t *testing.T) {
	w, sub, notarySecret, subject := startedWatcher(t)

	var seen []Status
	w.OnChange(func(st Status) { seen = append(seen, st) })

	sub.handlers.OnEvent(badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "beginner", false, 1000))
	st, _ := w.Status()
	if !st.Known || st.Tier != TierBeginner || st.Reported {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(seen) != 1 {
		t.Fatalf("expected one change notification, got %d", len(seen))
	}

	sub.handlers.OnEOSE()
	if _, synced := w.Status(); !synced {
		t.Fatal("EOSE did not mark the watcher synced")
	}
}

func TestWatcherNewestBadgeWins(t *testing.T) {
	w, sub, notarySecret, subject := startedWatcher(t)

	sub.handlers.OnEvent(badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "intermediate", false, 2000))
	sub.handlers.OnEvent(badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "beginner", false, 1000))
	st, _ := w.Status()
	if st.Tier != TierIntermediate {
		t.Fatalf("stale badge overwrote newer state: %+v", st)
	}

	sub.handlers.OnEvent(badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "experienced", false, 3000))
	st, _ = w.Status()
	if st.Tier != TierExperienced {
		t.Fatalf("newer badge not applied: %+v", st)
	}
}

func TestWatcherReportedFlagIsSticky(t *testing.T) {
	w, sub, notarySecret, subject := startedWatcher(t)

	sub.handlers.OnEvent(badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "beginner", true, 1000))
	sub.handlers.OnEvent(badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "intermediate", false, 2000))
	st, _ := w.Status()
	if !st.Reported {
		t.Fatal("reported flag unset by a later badge")
	}
	if st.Tier != TierIntermediate {
		t.Fatalf("tier not updated alongside sticky flag: %+v", st)
	}
}

func TestWatcherDropsInvalidEvents(t *testing.T) {
	w, sub, notarySecret, subject := startedWatcher(t)

	otherSecret := nostr.GeneratePrivateKey()
	forged := badgeEvent(t, otherSecret, subject, wire.NetworkTestnet, "experienced", false, 1000)
	sub.handlers.OnEvent(forged)

	wrongNet := badgeEvent(t, notarySecret, subject, wire.NetworkMainnet, "experienced", false, 1000)
	sub.handlers.OnEvent(wrongNet)

	wrongSubject := badgeEvent(t, notarySecret, "00"+subject[2:], wire.NetworkTestnet, "experienced", false, 1000)
	sub.handlers.OnEvent(wrongSubject)

	badTier := badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "platinum", false, 1000)
	sub.handlers.OnEvent(badTier)

	tampered := badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "experienced", false, 1000)
	tampered.Content = "edited after signing"
	sub.handlers.OnEvent(tampered)

	if st, _ := w.Status(); st.Known {
		t.Fatalf("invalid event moved the state machine: %+v", st)
	}
}

func TestWatcherReportedCountsOnUnknownTier(t *testing.T) {
	w, sub, notarySecret, subject := startedWatcher(t)

	sub.handlers.OnEvent(badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "platinum", true, 1000))
	st, _ := w.Status()
	if !st.Reported {
		t.Fatal("unknown tier suppressed the scam flag")
	}
	if st.Known || st.Tier != TierNone {
		t.Fatalf("unknown tier moved the tier state: %+v", st)
	}

	// A later valid badge keeps the flag and fills in the tier.
	sub.handlers.OnEvent(badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "beginner", false, 2000))
	st, _ = w.Status()
	if !st.Reported || st.Tier != TierBeginner {
		t.Fatalf("flag or tier lost after a valid badge: %+v", st)
	}
}

func TestWatcherTreatsMissingNetAsMainnet(t *testing.T) {
	notarySecret := nostr.GeneratePrivateKey()
	notaryPub, _ := nostr.GetPublicKey(notarySecret)
	subjectSecret := nostr.GeneratePrivateKey()
	subject, _ := nostr.GetPublicKey(subjectSecret)

	sub := &fakeSubscriber{}
	w := NewWatcher(sub, nil, notaryPub, subject, wire.NetworkMainnet, "")
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sub.handlers.OnEvent(badgeEvent(t, notarySecret, subject, "", "beginner", false, 1000))
	if st, _ := w.Status(); !st.Known || st.Tier != TierBeginner {
		t.Fatalf("badge without net tag not accepted on mainnet: %+v", st)
	}
}

func TestWatcherStopUnsubscribes(t *testing.T) {
	w, sub, _, subject := startedWatcher(t)
	w.Stop()
	if len(sub.unsubscribed) != 1 || sub.unsubscribed[0] != "badge:"+subject {
		t.Fatalf("unexpected unsubscribes: %v", sub.unsubscribed)
	}
}

func TestWatcherHonorsFixedSubscriptionID(t *testing.T) {
	notarySecret := nostr.GeneratePrivateKey()
	notaryPub, _ := nostr.GetPublicKey(notarySecret)
	subjectSecret := nostr.GeneratePrivateKey()
	subject, _ := nostr.GetPublicKey(subjectSecret)

	sub := &fakeSubscriber{}
	w := NewWatcher(sub, nil, notaryPub, subject, wire.NetworkTestnet, "order-badge")
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sub.subscribed[0] != "order-badge" {
		t.Fatalf("subscription id = %q", sub.subscribed[0])
	}

	// Switching subjects under the same id replaces the subscription at the
	// transport rather than stacking a second one.
	otherSecret := nostr.GeneratePrivateKey()
	other, _ := nostr.GetPublicKey(otherSecret)
	next := NewWatcher(sub, nil, notaryPub, other, wire.NetworkTestnet, "order-badge")
	if err := next.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(sub.subscribed) != 2 || sub.subscribed[1] != "order-badge" {
		t.Fatalf("unexpected subscriptions: %v", sub.subscribed)
	}
}

func TestWatcherAcceptsBothReportedEncodings(t *testing.T) {
	w, sub, notarySecret, subject := startedWatcher(t)

	ev := badgeEvent(t, notarySecret, subject, wire.NetworkTestnet, "none", false, 1000)
	sub.handlers.OnEvent(ev)

	legacy := nostr.Event{
		CreatedAt: 2000,
		Kind:      wire.KindBadge,
		Tags: nostr.Tags{
			{wire.TagSubject, subject},
			{wire.TagNetwork, wire.NetworkTestnet},
			{wire.TagTier, "none"},
			{wire.TagReported, "true"},
		},
	}
	if err := legacy.Sign(notarySecret); err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub.handlers.OnEvent(legacy)
	if st, _ := w.Status(); !st.Reported {
		t.Fatal(`reported="true" encoding not accepted`)
	}
}

func TestDeriveDisplayStates(t *testing.T) {
	ready := ViewContext{NotaryConfigured: true, SubjectKnown: true}
	cases := []struct {
		name string
		vc   ViewContext
		st   Status
		want DisplayState
	}{
		{"seller orders are unavailable", ViewContext{NotaryConfigured: true, SubjectKnown: true, IsSeller: true}, Status{}, DisplayUnavailable},
		{"swaps are unavailable", ViewContext{NotaryConfigured: true, SubjectKnown: true, IsSwap: true}, Status{}, DisplayUnavailable},
		{"no notary means optin", ViewContext{SubjectKnown: true}, Status{}, DisplayOptIn},
		{"no subject means optin", ViewContext{NotaryConfigured: true}, Status{}, DisplayOptIn},
		{"subscribed but quiet stays optin", ready, Status{}, DisplayOptIn},
		{"first assertion sets the tier", ready, Status{Known: true, Tier: TierBeginner}, DisplayState(TierBeginner)},
		{"tier none renders as none", ready, Status{Known: true, Tier: TierNone}, DisplayState(TierNone)},
	}
	for _, tc := range cases {
		if got := DeriveDisplay(tc.vc, tc.st); got != tc.want {
			t.Fatalf("%s: DeriveDisplay = %q, want %q", tc.name, got, tc.want)
		}
	}
}
