// Package wire holds the constants and payload shapes of the buyer-reputation
// protocol: the event kinds the notary and coordinators publish, the type
// strings carried inside encrypted payloads, and the tag names used on public
// events. Everything here mirrors what the notary aggregator expects on the
// other side of the relay.
package wire

import (
	"encoding/json"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

const (
	KindSuccessReceipt = 38384
	KindBadge          = 38385
	KindScamReport     = 38386
	KindGiftWrap       = 1059
	KindSeal           = 13
	KindPrivateRumor   = 14
)

const (
	TypeLinkRequest   = "robosats.reputation.link.request.v1"
	TypeLinkConfirm   = "robosats.reputation.link.confirm.v1"
	TypeStatsRequest  = "robosats.reputation.stats.request.v1"
	TypeStatsResponse = "robosats.reputation.stats.response.v1"
)

const (
	TagDedup    = "d"
	TagSubject  = "p"
	TagNetwork  = "net"
	TagTier     = "tier"
	TagReported = "reported"
	TagReport   = "report"
	TagVersion  = "v"

	ProtocolVersion = "1"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// ValidNetwork reports whether s names a network the notary serves.
func ValidNetwork(s string) bool {
	return s == NetworkMainnet || s == NetworkTestnet
}

// NormalizeNetwork lowercases s and falls back to mainnet when the tag is
// absent, matching the notary's defaulting.
func NormalizeNetwork(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return NetworkMainnet
	}
	return s
}

// LinkRequest is the inner payload of the envelope authored by the ephemeral
// trade identity; it names the master public key it wants to be linked to.
type LinkRequest struct {
	Type            string `json:"type"`
	MasterPubkey    string `json:"master_pubkey"`
	EphemeralPubkey string `json:"ephemeral_pubkey"`
	CreatedAt       int64  `json:"created_at"`
}

// LinkConfirm is the inner payload of the envelope authored by the master
// identity; it acknowledges the ephemeral public key.
type LinkConfirm struct {
	Type            string `json:"type"`
	EphemeralPubkey string `json:"ephemeral_pubkey"`
	CreatedAt       int64  `json:"created_at"`
}

// StatsRequest asks the notary for the sender's aggregate stats. The reply is
// encrypted to ReplyPubkey, never to the sender key, and must echo RequestID.
type StatsRequest struct {
	Type        string `json:"type"`
	Network     string `json:"network"`
	ReplyPubkey string `json:"reply_pubkey"`
	RequestID   string `json:"request_id"`
	CreatedAt   int64  `json:"created_at"`
}

// StatsResponse is the notary's answer. RequestID is echoed verbatim from the
// request; FirstSuccessAt is zero when the notary has no receipts yet.
type StatsResponse struct {
	Type           string `json:"type"`
	Network        string `json:"network"`
	SuccessCount   int    `json:"success_count"`
	Tier           string `json:"tier"`
	Reported       bool   `json:"reported"`
	FirstSuccessAt int64  `json:"first_success_at,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

// DecodeStatsResponse parses a decrypted payload, returning false when it is
// not a stats response at all (other payload types fail silently upstream).
func DecodeStatsResponse(payload string) (StatsResponse, bool) {
	var resp StatsResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return StatsResponse{}, false
	}
	if resp.Type != TypeStatsResponse {
		return StatsResponse{}, false
	}
	return resp, true
}

// TagValue returns the second element of the first tag named key, or "".
func TagValue(ev nostr.Event, key string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1]
		}
	}
	return ""
}

// IsHexPubkey reports whether v is a 64-char lowercase-insensitive hex string,
// the only pubkey form accepted on the wire.
func IsHexPubkey(v string) bool {
	if len(v) != 64 {
		return false
	}
	for _, c := range v {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
