// Package stats implements the private stats query: the client asks the
// notary for its own aggregate reputation and receives the answer encrypted
// to a derived one-purpose reply key, so the response never reveals which
// master identity asked.
package stats

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/crypto/hkdf"

	"robosats/reputationd/internal/giftwrap"
	"robosats/reputationd/internal/identity"
	"robosats/reputationd/internal/relay"
	"robosats/reputationd/internal/wire"
)

// replyKeyLabel domain-separates the reply key derivation; changing it would
// orphan nothing since reply keys are never persisted.
const replyKeyLabel = "robosats/reputation/stats-reply/v1"

var (
	// ErrUnavailable means the query cannot even be attempted: reputation is
	// disabled, no master key exists, or no notary is configured.
	ErrUnavailable = errors.New("stats: reputation identity or notary unavailable")
	// ErrTimeout means the request went out but no valid response arrived in time.
	ErrTimeout = errors.New("stats: notary did not answer in time")
)

// Transport is the slice of the relay session a query drives. Each query runs
// on its own transport so teardown cannot disturb long-lived subscriptions.
type Transport interface {
	Publish(ctx context.Context, ev nostr.Event) error
	Subscribe(ctx context.Context, id string, filter nostr.Filter, handlers relay.Handlers) error
	Unsubscribe(id string)
	Close()
}

// Client issues stats queries against one notary.
type Client struct {
	identity *identity.Manager
	log      *slog.Logger
	dial     func() Transport

	notaryPubkey string
	relayHint    string
	network      string
	timeout      time.Duration
}

func NewClient(mgr *identity.Manager, log *slog.Logger, relayURL, notaryPubkey, network string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		identity:     mgr,
		log:          log,
		dial:         func() Transport { return relay.NewTransport(relayURL, log) },
		notaryPubkey: notaryPubkey,
		relayHint:    relayURL,
		network:      wire.NormalizeNetwork(network),
		timeout:      timeout,
	}
}

// NewClientWithTransport injects the transport factory. Tests use it; the
// daemon uses NewClient.
func NewClientWithTransport(mgr *identity.Manager, log *slog.Logger, dial func() Transport, notaryPubkey, network string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		identity:     mgr,
		log:          log,
		dial:         dial,
		notaryPubkey: notaryPubkey,
		network:      wire.NormalizeNetwork(network),
		timeout:      timeout,
	}
}

// Query asks the notary for the caller's stats and blocks until the first
// valid response, the timeout, or ctx cancellation. Responses that fail to
// decrypt, come from the wrong author, or echo a different correlation token
// are dropped without ending the wait.
func (c *Client) Query(ctx context.Context) (wire.StatsResponse, error) {
	master, ok := c.identity.MasterIdentity()
	if !ok || !wire.IsHexPubkey(c.notaryPubkey) {
		return wire.StatsResponse{}, ErrUnavailable
	}
	reply, err := deriveReplyKeypair(master.SecretHex)
	if err != nil {
		return wire.StatsResponse{}, ErrUnavailable
	}
	requestID := uuid.NewString()

	transport := c.dial()
	defer transport.Close()
	subID := "stats:" + requestID
	defer transport.Unsubscribe(subID)

	results := make(chan wire.StatsResponse, 1)
	filter := nostr.Filter{
		Kinds: []int{wire.KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{reply.PublicHex}},
	}
	handlers := relay.Handlers{
		OnEvent: func(ev nostr.Event) {
			resp, ok := c.openResponse(ev, reply.SecretHex, requestID)
			if !ok {
				return
			}
			select {
			case results <- resp:
			default:
			}
		},
	}
	if err := transport.Subscribe(ctx, subID, filter, handlers); err != nil {
		return wire.StatsResponse{}, ErrUnavailable
	}

	request := wire.StatsRequest{
		Type:        wire.TypeStatsRequest,
		Network:     c.network,
		ReplyPubkey: reply.PublicHex,
		RequestID:   requestID,
		CreatedAt:   time.Now().Unix(),
	}
	raw, err := json.Marshal(request)
	if err != nil {
		return wire.StatsResponse{}, err
	}
	wrapped, err := giftwrap.Wrap(string(raw), master.SecretHex, c.notaryPubkey, c.relayHint)
	if err != nil {
		return wire.StatsResponse{}, err
	}
	if err := transport.Publish(ctx, wrapped); err != nil {
		return wire.StatsResponse{}, ErrUnavailable
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp := <-results:
		return resp, nil
	case <-timer.C:
		return wire.StatsResponse{}, ErrTimeout
	case <-ctx.Done():
		return wire.StatsResponse{}, ctx.Err()
	}
}

// openResponse unwraps one candidate envelope and applies every acceptance
// check. Anything short of a fully matching response from the notary is
// silently discarded; relays may deliver unrelated or hostile envelopes.
func (c *Client) openResponse(ev nostr.Event, replySecretHex, requestID string) (wire.StatsResponse, bool) {
	rumor, err := giftwrap.Unwrap(ev, replySecretHex)
	if err != nil {
		return wire.StatsResponse{}, false
	}
	if rumor.PubKey != c.notaryPubkey {
		c.log.Warn("stats response from unexpected author dropped")
		return wire.StatsResponse{}, false
	}
	resp, ok := wire.DecodeStatsResponse(rumor.Content)
	if !ok {
		return wire.StatsResponse{}, false
	}
	if wire.NormalizeNetwork(resp.Network) != c.network {
		return wire.StatsResponse{}, false
	}
	if resp.RequestID != requestID {
		return wire.StatsResponse{}, false
	}
	return resp, true
}

// deriveReplyKeypair maps the master secret to a stable secondary keypair for
// stats replies. Deterministic derivation means nothing new to back up, and
// the label keeps it unlinkable to any other use of the master secret.
func deriveReplyKeypair(masterSecretHex string) (identity.Keypair, error) {
	secret, err := hex.DecodeString(masterSecretHex)
	if err != nil || len(secret) != 32 {
		return identity.Keypair{}, identity.ErrInvalidSecret
	}
	reader := hkdf.New(sha256.New, secret, nil, []byte(replyKeyLabel))
	raw := make([]byte, 32)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return identity.Keypair{}, err
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	defer priv.Zero()
	return identity.KeypairFromSecretHex(hex.EncodeToString(priv.Serialize()))
}
