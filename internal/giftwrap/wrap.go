// Package giftwrap builds and opens the double-encrypted envelopes the
// reputation protocol exchanges over public relays. An envelope hides both the
// payload and the true author: the inner rumor is sealed under the author's
// key, then the seal is wrapped again under a disposable one-time key, so the
// only pubkey a relay observer sees is used exactly once.
package giftwrap

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"robosats/reputationd/internal/wire"
)

// Timestamps on the outer layers are smeared backward up to this window so
// envelope times cannot be correlated with trade times.
const backdateWindow = 2 * 24 * time.Hour

// Wrap seals payload as a rumor from authorSecretHex to recipientPubHex and
// returns the signed outer event, ready to publish. relayHint, when not empty,
// rides in the recipient tag so the notary knows where to reply.
func Wrap(payload, authorSecretHex, recipientPubHex, relayHint string) (nostr.Event, error) {
	authorPub, err := nostr.GetPublicKey(authorSecretHex)
	if err != nil {
		return nostr.Event{}, ErrBadKey
	}

	rumor := nostr.Event{
		PubKey:    authorPub,
		CreatedAt: nostr.Now(),
		Kind:      wire.KindPrivateRumor,
		Tags:      nostr.Tags{{"p", recipientPubHex}},
		Content:   payload,
	}
	rumor.ID = rumor.GetID()
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nostr.Event{}, err
	}

	sealConv, err := conversationKey(authorSecretHex, recipientPubHex)
	if err != nil {
		return nostr.Event{}, err
	}
	sealContent, err := encryptPayload(string(rumorJSON), sealConv)
	if err != nil {
		return nostr.Event{}, err
	}
	seal := nostr.Event{
		CreatedAt: backdated(),
		Kind:      wire.KindSeal,
		Tags:      nostr.Tags{},
		Content:   sealContent,
	}
	if err := seal.Sign(authorSecretHex); err != nil {
		return nostr.Event{}, err
	}
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nostr.Event{}, err
	}

	// The outer layer is signed by a key that exists only for this envelope.
	wrapSecret := nostr.GeneratePrivateKey()
	wrapConv, err := conversationKey(wrapSecret, recipientPubHex)
	if err != nil {
		return nostr.Event{}, err
	}
	wrapContent, err := encryptPayload(string(sealJSON), wrapConv)
	if err != nil {
		return nostr.Event{}, err
	}
	recipientTag := nostr.Tag{"p", recipientPubHex}
	if relayHint != "" {
		recipientTag = append(recipientTag, relayHint)
	}
	wrapped := nostr.Event{
		CreatedAt: backdated(),
		Kind:      wire.KindGiftWrap,
		Tags:      nostr.Tags{recipientTag},
		Content:   wrapContent,
	}
	if err := wrapped.Sign(wrapSecret); err != nil {
		return nostr.Event{}, err
	}
	return wrapped, nil
}

// Unwrap opens an envelope addressed to recipientSecretHex and returns the
// inner rumor. Envelopes encrypted to someone else, carrying a bad seal
// signature, or claiming a rumor author different from the seal signer all
// fail; callers discard them without logging contents.
func Unwrap(wrapped nostr.Event, recipientSecretHex string) (nostr.Event, error) {
	wrapConv, err := conversationKey(recipientSecretHex, wrapped.PubKey)
	if err != nil {
		return nostr.Event{}, err
	}
	sealJSON, err := decryptPayload(wrapped.Content, wrapConv)
	if err != nil {
		return nostr.Event{}, err
	}
	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nostr.Event{}, ErrBadPayload
	}
	if seal.Kind != wire.KindSeal {
		return nostr.Event{}, ErrBadPayload
	}
	if ok, err := seal.CheckSignature(); err != nil || !ok {
		return nostr.Event{}, ErrBadPayload
	}

	rumorConv, err := conversationKey(recipientSecretHex, seal.PubKey)
	if err != nil {
		return nostr.Event{}, err
	}
	rumorJSON, err := decryptPayload(seal.Content, rumorConv)
	if err != nil {
		return nostr.Event{}, err
	}
	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nostr.Event{}, ErrBadPayload
	}
	if rumor.Kind != wire.KindPrivateRumor || rumor.PubKey != seal.PubKey {
		return nostr.Event{}, ErrBadPayload
	}
	return rumor, nil
}

func backdated() nostr.Timestamp {
	offset, err := rand.Int(rand.Reader, big.NewInt(int64(backdateWindow/time.Second)))
	if err != nil {
		return nostr.Now()
	}
	return nostr.Timestamp(time.Now().Unix() - offset.Int64())
}
