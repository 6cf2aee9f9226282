// Package link ties an ephemeral trade identity to the master reputation
// identity at the notary. The binding needs both halves: a request authored
// by the ephemeral key naming the master, and a confirmation authored by the
// master naming the ephemeral key. The notary finalizes only when both have
// arrived, so a third party cannot claim someone else's trades.
package link

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"robosats/reputationd/internal/giftwrap"
	"robosats/reputationd/internal/identity"
	"robosats/reputationd/internal/wire"
)

// Publisher is the slice of the relay transport the linker needs.
type Publisher interface {
	Publish(ctx context.Context, ev nostr.Event) error
}

// Linker emits link request/confirm envelopes to the configured notary.
type Linker struct {
	identity  *identity.Manager
	publisher Publisher
	log       *slog.Logger

	notaryPubkey string
	relayHint    string
}

func NewLinker(mgr *identity.Manager, publisher Publisher, log *slog.Logger, notaryPubkey, relayHint string) *Linker {
	if log == nil {
		log = slog.Default()
	}
	return &Linker{
		identity:     mgr,
		publisher:    publisher,
		log:          log,
		notaryPubkey: notaryPubkey,
		relayHint:    relayHint,
	}
}

// LinkIdentities publishes both halves of the binding for the given ephemeral
// trade secret. It is fire-and-forget: when reputation is disabled, no master
// key exists, or a publish fails, it logs and returns without error, because
// trade flow must never block on reputation.
func (l *Linker) LinkIdentities(ctx context.Context, ephemeralSecretHex string) {
	master, ok := l.identity.MasterIdentity()
	if !ok {
		l.log.Debug("identity link skipped, reputation not active")
		return
	}
	ephemeral, err := identity.KeypairFromSecretHex(ephemeralSecretHex)
	if err != nil {
		l.log.Warn("identity link skipped, unusable ephemeral secret")
		return
	}
	now := time.Now().Unix()

	request := wire.LinkRequest{
		Type:            wire.TypeLinkRequest,
		MasterPubkey:    master.PublicHex,
		EphemeralPubkey: ephemeral.PublicHex,
		CreatedAt:       now,
	}
	l.send(ctx, "link request", request, ephemeral.SecretHex)

	confirm := wire.LinkConfirm{
		Type:            wire.TypeLinkConfirm,
		EphemeralPubkey: ephemeral.PublicHex,
		CreatedAt:       now,
	}
	l.send(ctx, "link confirm", confirm, master.SecretHex)
}

func (l *Linker) send(ctx context.Context, what string, payload any, authorSecretHex string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		l.log.Warn("payload encode failed", "what", what, "err", err)
		return
	}
	wrapped, err := giftwrap.Wrap(string(raw), authorSecretHex, l.notaryPubkey, l.relayHint)
	if err != nil {
		l.log.Warn("envelope build failed", "what", what, "err", err)
		return
	}
	if err := l.publisher.Publish(ctx, wrapped); err != nil {
		l.log.Warn("publish failed", "what", what, "err", err)
		return
	}
	l.log.Debug("published", "what", what)
}
