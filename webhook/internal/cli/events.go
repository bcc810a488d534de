package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	natsclient "github.com/virtualrealityeconomics/vre-webhook-server/common/messaging/nats"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Delivery event stream commands",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print delivery events as they are published",
	Long:  "Subscribe to vre.deliveries.> on NATS and print each event until interrupted or --count events arrive.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is not configured")
		}
		count, _ := cmd.Flags().GetInt("count")

		nc := natsclient.DefaultConfig()
		nc.URL = cfg.NATS.URL
		nc.Name = "vrectl-events"
		nc.Logger = logger
		client, err := natsclient.NewClient(nc)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		p := printer(cmd)
		evCh := make(chan events.DeliveryEvent, 64)
		sub, err := events.Tail(client, func(ev events.DeliveryEvent) {
			select {
			case evCh <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
		defer sub.Unsubscribe()

		p.Info("Listening on %s", sub.Subject())
		seen := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-evCh:
				if err := printEvent(cmd, ev); err != nil {
					return err
				}
				seen++
				if count > 0 && seen >= count {
					return nil
				}
			}
		}
	},
}

func printEvent(cmd *cobra.Command, ev events.DeliveryEvent) error {
	format, _ := cmd.Flags().GetString("output")
	p := printer(cmd)
	switch format {
	case "json":
		return p.JSON(ev)
	case "yaml":
		return p.YAML(ev)
	}
	ts := ev.Timestamp.Format("15:04:05")
	if ev.Success {
		p.Success("%s %s %s VRE -> %s (%s, %s)", ts, ev.Source, ev.Amount, short(ev.Wallet), ev.SequenceKind, short(ev.TransferSignature))
	} else {
		p.Error("%s %s %s VRE -> %s failed: %s", ts, ev.Source, ev.Amount, short(ev.Wallet), ev.Error)
	}
	return nil
}

func init() {
	eventsTailCmd.Flags().Int("count", 0, "exit after this many events (0 runs until interrupted)")
	eventsCmd.AddCommand(eventsTailCmd)
	rootCmd.AddCommand(eventsCmd)
}
