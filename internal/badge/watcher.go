package badge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"robosats/reputationd/internal/relay"
	"robosats/reputationd/internal/wire"
)

// Subscriber is the slice of the relay transport the watcher needs.
type Subscriber interface {
	Subscribe(ctx context.Context, id string, filter nostr.Filter, handlers relay.Handlers) error
	Unsubscribe(id string)
}

// Watcher holds a live subscription to the notary's badge events for one
// subject pubkey and folds them into a Status. Badge events are addressable
// by their d tag, so replays and replacements may arrive in any order; the
// newest valid event wins, except that a scam flag never unsets.
type Watcher struct {
	transport Subscriber
	log       *slog.Logger

	notaryPubkey  string
	subjectPubkey string
	network       string
	subID         string

	mu        sync.RWMutex
	status    Status
	synced    bool
	listeners []func(Status)
}

// NewWatcher builds a watcher for subjectPubkey. subscriptionID may be empty,
// in which case a per-subject id is used; callers that track one counterparty
// at a time pass a fixed id so switching subjects replaces the previous
// subscription instead of accumulating them.
func NewWatcher(transport Subscriber, log *slog.Logger, notaryPubkey, subjectPubkey, network, subscriptionID string) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	if subscriptionID == "" {
		subscriptionID = "badge:" + subjectPubkey
	}
	return &Watcher{
		transport:     transport,
		log:           log,
		notaryPubkey:  notaryPubkey,
		subjectPubkey: subjectPubkey,
		network:       wire.NormalizeNetwork(network),
		subID:         subscriptionID,
		status:        Status{Tier: TierNone},
	}
}

// OnChange registers fn to run with the new status after every accepted
// badge. The callback must not call back into the watcher.
func (w *Watcher) OnChange(fn func(Status)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) subscriptionID() string {
	return w.subID
}

// Start opens the badge subscription. Restarting replaces the previous
// subscription under the same id.
func (w *Watcher) Start(ctx context.Context) error {
	filter := nostr.Filter{
		Kinds:   []int{wire.KindBadge},
		Authors: []string{w.notaryPubkey},
		Tags:    nostr.TagMap{"p": []string{w.subjectPubkey}},
	}
	return w.transport.Subscribe(ctx, w.subscriptionID(), filter, relay.Handlers{
		OnEvent: w.handleEvent,
		OnEOSE:  w.handleEOSE,
	})
}

// Stop tears the subscription down. The accumulated status survives.
func (w *Watcher) Stop() {
	w.transport.Unsubscribe(w.subscriptionID())
}

// Status returns the current folded badge state and whether the stored
// backlog has been drained at least once.
func (w *Watcher) Status() (Status, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status, w.synced
}

func (w *Watcher) handleEOSE() {
	w.mu.Lock()
	w.synced = true
	w.mu.Unlock()
}

// handleEvent revalidates everything the filter already promised. Relays are
// untrusted; a forged or misaddressed badge must not move the state machine.
func (w *Watcher) handleEvent(ev nostr.Event) {
	if ev.Kind != wire.KindBadge || ev.PubKey != w.notaryPubkey {
		return
	}
	if wire.TagValue(ev, wire.TagSubject) != w.subjectPubkey {
		return
	}
	if wire.NormalizeNetwork(wire.TagValue(ev, wire.TagNetwork)) != w.network {
		return
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		w.log.Warn("badge with bad signature dropped", "event_id", ev.ID)
		return
	}
	reported := truthy(wire.TagValue(ev, wire.TagReported))
	tier, tierOK := ParseTier(wire.TagValue(ev, wire.TagTier))
	if !tierOK {
		// A scam flag counts even when the tier value is unknown to this
		// client; only the tier update is skipped.
		w.log.Warn("badge with unknown tier", "event_id", ev.ID)
		if !reported {
			return
		}
	}

	w.mu.Lock()
	next := w.status
	if reported {
		next.Reported = true
	}
	if tierOK && (!w.status.Known || int64(ev.CreatedAt) >= w.status.UpdatedAt) {
		next.Known = true
		next.Tier = tier
		next.UpdatedAt = int64(ev.CreatedAt)
	}
	changed := next != w.status
	w.status = next
	listeners := append([]func(Status){}, w.listeners...)
	w.mu.Unlock()

	if !changed {
		return
	}
	w.log.Info("badge updated", "tier", string(next.Tier), "reported", next.Reported)
	for _, fn := range listeners {
		fn(next)
	}
}

// truthy matches the notary's flag encoding, which has shipped both forms.
func truthy(v string) bool {
	return v == "1" || v == "true"
}
