// Package badge tracks the reputation badge the notary publishes for the
// local master identity: the live subscription, the tier/reported state
// machine and the policy deciding when a badge may be shown.
package badge

import "time"

// Tier is the coarse reputation level carried in a badge's tier tag. The
// notary computes it; the client only parses and displays it.
type Tier string

const (
	TierNone         Tier = "none"
	TierBeginner     Tier = "beginner"
	TierIntermediate Tier = "intermediate"
	TierExperienced  Tier = "experienced"
)

// ParseTier maps a tag value to a Tier, rejecting anything the protocol does
// not define rather than passing unknown strings through to the UI.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierNone, TierBeginner, TierIntermediate, TierExperienced:
		return Tier(s), true
	}
	return TierNone, false
}

// ClassifyTier mirrors the notary's tier function so local tooling can
// predict what badge a given history yields. Counts gate entry to each tier
// and account age gates the upper two.
func ClassifyTier(successCount int, firstSuccessAt time.Time, now time.Time) Tier {
	ageDays := 0
	if !firstSuccessAt.IsZero() && now.After(firstSuccessAt) {
		ageDays = int(now.Sub(firstSuccessAt) / (24 * time.Hour))
	}
	switch {
	case successCount > 30 && ageDays >= 120:
		return TierExperienced
	case successCount > 10 && ageDays >= 90:
		return TierIntermediate
	case successCount > 5:
		return TierBeginner
	default:
		return TierNone
	}
}

// Status is the current badge view for one subject on one network.
type Status struct {
	// Known flips to true once any valid badge has been observed.
	Known    bool
	Tier     Tier
	Reported bool
	// UpdatedAt is the created_at of the badge that produced this state.
	UpdatedAt int64
}

// Visible decides whether a badge state may be rendered. The owner always
// sees their own state; anyone else sees it only when there is something to
// say, either an earned tier or a scam flag. Hiding the empty states keeps
// absence-of-signal from becoming a linkable fingerprint.
func Visible(own bool, st Status) bool {
	if own {
		return true
	}
	if st.Reported {
		return true
	}
	return st.Known && st.Tier != TierNone
}

// DisplayState is what the order view renders for one counterparty.
type DisplayState string

const (
	// DisplayOptIn is the muted state before any assertion arrives, or when
	// no notary or subject pubkey is available at all.
	DisplayOptIn DisplayState = "optin"
	// DisplayUnavailable marks orders reputation does not apply to.
	DisplayUnavailable DisplayState = "unavailable"
)

// ViewContext captures the order-side facts the display state depends on.
type ViewContext struct {
	NotaryConfigured bool
	SubjectKnown     bool
	IsSeller         bool
	IsSwap           bool
}

// DeriveDisplay maps the subscription state onto the rendered badge state.
// Sellers and swaps never accrue buyer reputation, so they are unavailable
// outright; everything else idles at optin until the first valid assertion.
func DeriveDisplay(vc ViewContext, st Status) DisplayState {
	if vc.IsSeller || vc.IsSwap {
		return DisplayUnavailable
	}
	if !vc.NotaryConfigured || !vc.SubjectKnown {
		return DisplayOptIn
	}
	if !st.Known {
		return DisplayOptIn
	}
	return DisplayState(st.Tier)
}
