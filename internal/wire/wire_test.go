package wire

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestNormalizeNetworkDefaultsToMainnet(t *testing.T) {
	cases := map[string]string{
		"":          NetworkMainnet,
		"  ":        NetworkMainnet,
		"MAINNET":   NetworkMainnet,
		"Testnet":   NetworkTestnet,
		" testnet ": NetworkTestnet,
		"signet":    "signet",
	}
	for in, want := range cases {
		if got := NormalizeNetwork(in); got != want {
			t.Fatalf("NormalizeNetwork(%q) = %q, want %q", in, got, want)
		}
	}
	if ValidNetwork("signet") {
		t.Fatal("signet should not be a valid network")
	}
}

func TestDecodeStatsResponseRejectsOtherTypes(t *testing.T) {
	if _, ok := DecodeStatsResponse(`{"type":"robosats.reputation.link.request.v1"}`); ok {
		t.Fatal("link request payload decoded as stats response")
	}
	if _, ok := DecodeStatsResponse("not json"); ok {
		t.Fatal("garbage decoded as stats response")
	}
	resp, ok := DecodeStatsResponse(`{"type":"robosats.reputation.stats.response.v1","network":"testnet","success_count":7,"tier":"beginner","reported":false,"request_id":"abc","created_at":1}`)
	if !ok {
		t.Fatal("valid stats response rejected")
	}
	if resp.SuccessCount != 7 || resp.Tier != "beginner" || resp.RequestID != "abc" {
		t.Fatalf("unexpected decode: %+v", resp)
	}
}

func TestTagValue(t *testing.T) {
	ev := nostr.Event{Tags: nostr.Tags{{"d", "one"}, {"p", "abc"}, {"p", "def"}}}
	if got := TagValue(ev, "p"); got != "abc" {
		t.Fatalf("TagValue(p) = %q, want first occurrence", got)
	}
	if got := TagValue(ev, "net"); got != "" {
		t.Fatalf("missing tag should yield empty, got %q", got)
	}
}

func TestIsHexPubkey(t *testing.T) {
	valid := "a3f1c2d4e5f60718a3f1c2d4e5f60718a3f1c2d4e5f60718a3f1c2d4e5f60718"
	if !IsHexPubkey(valid) {
		t.Fatal("valid pubkey rejected")
	}
	for _, bad := range []string{"", valid[:63], valid + "0", "nsec1abc", "g" + valid[1:]} {
		if IsHexPubkey(bad) {
			t.Fatalf("invalid pubkey accepted: %q", bad)
		}
	}
}
