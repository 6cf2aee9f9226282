// repseed populates a development relay with a believable reputation history:
// it links a fresh demo user to a fresh master identity, publishes success
// receipts from a coordinator key, optionally files a scam report, and waits
// until the notary's badge reflects the expected tier.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"robosats/reputationd/internal/badge"
	"robosats/reputationd/internal/coordinator"
	"robosats/reputationd/internal/identity"
	"robosats/reputationd/internal/keystore"
	"robosats/reputationd/internal/link"
	"robosats/reputationd/internal/relay"
	"robosats/reputationd/internal/service"
	"robosats/reputationd/internal/wire"
)

func main() {
	relayURL := flag.String("relay", "ws://127.0.0.1:7778", "Relay to seed")
	notaryPubkey := flag.String("notary-pubkey", "", "Notary pubkey (64-hex)")
	coordSecret := flag.String("coordinator-secret", "", "Coordinator signing secret (64-hex); generated when empty")
	network := flag.String("network", wire.NetworkTestnet, "Network tag: mainnet | testnet")
	count := flag.Int("count", 12, "Number of success receipts to publish")
	firstDays := flag.Int("first-days", 100, "Age in days of the first receipt")
	report := flag.Bool("report", false, "Also publish a scam report for the demo user")
	wait := flag.Duration("wait", 60*time.Second, "How long to wait for the notary badge")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !wire.IsHexPubkey(*notaryPubkey) {
		log.Fatal("repseed: -notary-pubkey must be 64-hex")
	}
	if err := seed(ctx, *relayURL, *notaryPubkey, *coordSecret, *network, *count, *firstDays, *report, *wait); err != nil {
		log.Fatalf("repseed failed: %v", err)
	}
}

func seed(ctx context.Context, relayURL, notaryPubkey, coordSecret, network string, count, firstDays int, report bool, wait time.Duration) error {
	logger := service.NewLogger("info")

	coordKeys, err := keypairOrGenerate(coordSecret)
	if err != nil {
		return fmt.Errorf("coordinator secret: %w", err)
	}
	master, err := identity.GenerateKeypair()
	if err != nil {
		return err
	}
	ephemeral, err := identity.GenerateKeypair()
	if err != nil {
		return err
	}
	fmt.Printf("coordinator_pubkey=%s\nmaster_pubkey=%s\nephemeral_pubkey=%s\n",
		coordKeys.PublicHex, master.PublicHex, ephemeral.PublicHex)

	transport := relay.NewTransport(relayURL, logger)
	defer transport.Close()
	if err := transport.Connect(ctx); err != nil {
		return fmt.Errorf("relay unreachable: %w", err)
	}

	// The demo user's identity manager lives in memory; the handshake only
	// needs a master key it can sign with.
	store := keystore.NewMemoryStore()
	mgr := identity.NewManager(store)
	if err := mgr.SetEnabled(true); err != nil {
		return err
	}
	if !mgr.ImportSecret(master.SecretHex) {
		return fmt.Errorf("generated master secret did not import")
	}
	linker := link.NewLinker(mgr, transport, logger, notaryPubkey, relayURL)
	linker.LinkIdentities(ctx, ephemeral.SecretHex)

	coord, err := coordinator.New(coordKeys.SecretHex, transport, logger, network)
	if err != nil {
		return err
	}
	now := time.Now()
	first := now.Add(-time.Duration(firstDays) * 24 * time.Hour)
	for i := 0; i < count; i++ {
		completedAt := now
		if i == 0 {
			completedAt = first
		}
		if err := coord.PublishSuccessReceipt(ctx, ephemeral.PublicHex, false, completedAt); err != nil {
			return fmt.Errorf("receipt %d/%d: %w", i+1, count, err)
		}
	}
	if report {
		if err := coord.PublishScamReport(ctx, ephemeral.PublicHex, "seeded demo report"); err != nil {
			return err
		}
	}

	expected := badge.ClassifyTier(count, first, now)
	fmt.Printf("expected_tier=%s\n", expected)
	// Badges are addressed to the ephemeral pubkey the receipts credited.
	return waitForBadge(ctx, transport, notaryPubkey, ephemeral.PublicHex, network, expected, report, wait)
}

// waitForBadge blocks until the notary publishes a badge matching the seeded
// history, so the operator knows the whole pipeline worked end to end.
func waitForBadge(ctx context.Context, transport *relay.Transport, notaryPubkey, subjectPubkey, network string, expected badge.Tier, expectReported bool, wait time.Duration) error {
	watcher := badge.NewWatcher(transport, nil, notaryPubkey, subjectPubkey, network, "")
	done := make(chan badge.Status, 1)
	watcher.OnChange(func(st badge.Status) {
		if st.Tier == expected && (!expectReported || st.Reported) {
			select {
			case done <- st:
			default:
			}
		}
	})
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case st := <-done:
		fmt.Printf("badge observed: tier=%s reported=%t\n", st.Tier, st.Reported)
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out waiting for a matching badge; is the notary running and subscribed to %s", network)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func keypairOrGenerate(secretHex string) (identity.Keypair, error) {
	if secretHex == "" {
		return identity.GenerateKeypair()
	}
	return identity.KeypairFromSecretHex(secretHex)
}
