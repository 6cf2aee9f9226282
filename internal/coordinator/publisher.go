// Package coordinator implements the publishing side a trade coordinator
// runs: signed public success receipts after a completed trade and signed
// scam reports after a resolved dispute. Both are addressable events the
// notary aggregates; neither carries any trade detail beyond the buyer's
// ephemeral pubkey.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"robosats/reputationd/internal/wire"
)

var (
	ErrNoBuyerPubkey = errors.New("coordinator: trade has no buyer pubkey")
	ErrBadNetwork    = errors.New("coordinator: unknown network")
)

// Publisher is the slice of the relay transport the coordinator needs.
type Publisher interface {
	Publish(ctx context.Context, ev nostr.Event) error
}

// Coordinator signs reputation events with the coordinator identity.
type Coordinator struct {
	secretHex string
	publisher Publisher
	log       *slog.Logger
	network   string
}

func New(secretHex string, publisher Publisher, log *slog.Logger, network string) (*Coordinator, error) {
	network = wire.NormalizeNetwork(network)
	if !wire.ValidNetwork(network) {
		return nil, ErrBadNetwork
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		secretHex: secretHex,
		publisher: publisher,
		log:       log,
		network:   network,
	}, nil
}

// PublishSuccessReceipt emits one receipt crediting buyerPubkey with a
// completed trade. Swaps and trades without a buyer pubkey produce nothing;
// only genuine buy orders accrue reputation. The d tag is a fresh uuid so
// every receipt is its own addressable event.
func (c *Coordinator) PublishSuccessReceipt(ctx context.Context, buyerPubkey string, isSwap bool, completedAt time.Time) error {
	if isSwap {
		c.log.Debug("receipt skipped for swap")
		return nil
	}
	if !wire.IsHexPubkey(buyerPubkey) {
		return ErrNoBuyerPubkey
	}
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	ev := nostr.Event{
		CreatedAt: nostr.Timestamp(completedAt.Unix()),
		Kind:      wire.KindSuccessReceipt,
		Tags: nostr.Tags{
			{wire.TagDedup, uuid.NewString()},
			{wire.TagSubject, buyerPubkey},
			{wire.TagNetwork, c.network},
			{wire.TagVersion, wire.ProtocolVersion},
		},
		Content: "",
	}
	if err := ev.Sign(c.secretHex); err != nil {
		return err
	}
	if err := c.publisher.Publish(ctx, ev); err != nil {
		return err
	}
	c.log.Info("success receipt published", "network", c.network)
	return nil
}

// PublishScamReport flags buyerPubkey after a dispute resolved against them.
// The d tag is network:pubkey, so republishing replaces rather than stacks;
// one report is all the notary needs.
func (c *Coordinator) PublishScamReport(ctx context.Context, buyerPubkey, note string) error {
	if !wire.IsHexPubkey(buyerPubkey) {
		return ErrNoBuyerPubkey
	}
	ev := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      wire.KindScamReport,
		Tags: nostr.Tags{
			{wire.TagDedup, c.network + ":" + buyerPubkey},
			{wire.TagSubject, buyerPubkey},
			{wire.TagNetwork, c.network},
			{wire.TagReport, "scammer"},
			{wire.TagVersion, wire.ProtocolVersion},
		},
		Content: note,
	}
	if err := ev.Sign(c.secretHex); err != nil {
		return err
	}
	if err := c.publisher.Publish(ctx, ev); err != nil {
		return err
	}
	c.log.Info("scam report published", "network", c.network)
	return nil
}
