package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"robosats/reputationd/internal/config"
	"robosats/reputationd/internal/service"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	mode := flag.String("mode", "status", "Operation: status | enable | disable | generate | import | export | delete | link | stats | watch")
	nsec := flag.String("nsec", "", "Master secret to import (nsec or 64-hex), for -mode import")
	ephemeralSecret := flag.String("ephemeral-secret", "", "Ephemeral trade secret (64-hex), for -mode link")
	subject := flag.String("subject", "", "Pubkey to watch badges for (64-hex), for -mode watch; defaults to the local master key")
	flag.Parse()
	if *showVersion {
		fmt.Printf("reputationd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("reputationd failed to load config: %v", err)
	}
	svc, err := service.New(cfg)
	if err != nil {
		log.Fatalf("reputationd failed to initialize: %v", err)
	}

	if err := run(ctx, svc, *mode, *nsec, *ephemeralSecret, *subject); err != nil {
		log.Fatalf("reputationd %s failed: %v", *mode, err)
	}
}

func run(ctx context.Context, svc *service.Service, mode, nsec, ephemeralSecret, subject string) error {
	switch mode {
	case "status":
		st := svc.Status()
		fmt.Printf("enabled=%t has_master_key=%t network=%s\n", st.Enabled, st.HasMasterKey, st.Network)
		if st.Npub != "" {
			fmt.Printf("npub=%s\n", st.Npub)
		}
		return nil
	case "enable":
		return svc.Identity.SetEnabled(true)
	case "disable":
		return svc.Identity.SetEnabled(false)
	case "generate":
		id, err := svc.Identity.Generate()
		if err != nil {
			return err
		}
		fmt.Printf("npub=%s\n", id.Npub)
		return nil
	case "import":
		if !svc.Identity.ImportSecret(nsec) {
			return fmt.Errorf("secret is not a valid nsec or 64-hex key")
		}
		fmt.Println("imported")
		return nil
	case "export":
		backup, ok := svc.Identity.ExportBackup()
		if !ok {
			return fmt.Errorf("no master key to export")
		}
		fmt.Printf("npub=%s\nnsec=%s\n", backup.Npub, backup.Nsec)
		if backup.Mnemonic != "" {
			fmt.Printf("mnemonic=%s\n", backup.Mnemonic)
		}
		return nil
	case "delete":
		return svc.Identity.DeleteMasterKey()
	case "link":
		if ephemeralSecret == "" {
			return fmt.Errorf("-ephemeral-secret is required")
		}
		return svc.LinkIdentities(ctx, ephemeralSecret)
	case "stats":
		resp, err := svc.QueryStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("network=%s success_count=%d tier=%s reported=%t", resp.Network, resp.SuccessCount, resp.Tier, resp.Reported)
		if resp.FirstSuccessAt > 0 {
			fmt.Printf(" first_success_at=%d", resp.FirstSuccessAt)
		}
		fmt.Println()
		return nil
	case "watch":
		return svc.Run(ctx, subject)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}
