package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/cli/output"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/executor"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/poller"
)

var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Trigger a manual delivery through the service",
	Long: `Send a fiat delivery request to POST /webhook on the running service.

The request is deduplicated on --purchase-id, so re-running the command
with the same id never delivers twice.`,
	Example: `  vrectl deliver --wallet 9xQe...Xy3 --amount 2500 --purchase-id manual-2026-10-19-1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wallet, _ := cmd.Flags().GetString("wallet")
		rawAmount, _ := cmd.Flags().GetString("amount")
		purchaseID, _ := cmd.Flags().GetString("purchase-id")
		moonpayTx, _ := cmd.Flags().GetString("moonpay-tx")
		server, _ := cmd.Flags().GetString("server")

		if err := executor.ValidateAddress(wallet); err != nil {
			return fmt.Errorf("invalid --wallet: %w", err)
		}
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil || !amount.IsPositive() {
			return fmt.Errorf("invalid --amount %q", rawAmount)
		}

		body, err := json.Marshal(models.FiatPurchaseRequest{
			Source:               models.FiatSourceMoonpay,
			Type:                 models.FiatTypeDeliveryRequest,
			UserWallet:           wallet,
			VREAmount:            amount,
			PurchaseID:           purchaseID,
			MoonpayTransactionID: moonpayTx,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
			strings.TrimRight(server, "/")+"/webhook", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if cfg.Webhook.Secret != "" {
			req.Header.Set("Authorization", "Bearer "+cfg.Webhook.Secret)
		}

		resp, err := (&http.Client{Timeout: cfg.Executor.CLITimeout + 30*time.Second}).Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		var out models.FiatDeliveryResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
		}

		if err := render(cmd, out, func(p *output.Printer) {
			switch {
			case out.Duplicate:
				p.Warn("Purchase %s was already delivered", purchaseID)
			case out.Success:
				p.Success("Delivered %s VRE to %s (%s)", out.Amount, wallet, out.Process)
				p.Info("Transfer:    %s", out.Signature)
				p.Info("New balance: %s", out.NewBalance)
				p.Info("Storage:     %s", out.StorageMode)
			}
		}); err != nil {
			return err
		}
		if !out.Success {
			msg := out.Error
			if msg == "" {
				msg = fmt.Sprintf("delivery failed with status %d", resp.StatusCode)
			}
			if out.Details != "" {
				msg += ": " + out.Details
			}
			return errors.New(msg)
		}
		return nil
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait <signature>",
	Short: "Wait for a payment's delivery record",
	Long:  "Poll the service until the delivery record for a payment signature exists, or the attempts run out.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		attempts, _ := cmd.Flags().GetInt("attempts")
		interval, _ := cmd.Flags().GetDuration("interval")
		delay, _ := cmd.Flags().GetDuration("initial-delay")

		src := poller.NewHTTPSource(server, 10*time.Second)
		rec, found, err := poller.Wait(cmd.Context(), src, args[0], poller.Config{
			InitialDelay: delay,
			Interval:     interval,
			MaxAttempts:  attempts,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no delivery recorded for %s after %d attempts", args[0], attempts)
		}
		return render(cmd, rec, func(p *output.Printer) {
			p.Success("Delivered %s VRE to %s", rec.AmountDelivered, rec.Wallet)
			p.Info("Transfer: %s", rec.TransferSignature)
			p.Info("Record:   %s", rec.PurchaseID)
		})
	},
}

func init() {
	deliverCmd.Flags().String("wallet", "", "destination wallet address")
	deliverCmd.Flags().String("amount", "", "VRE amount to deliver")
	deliverCmd.Flags().String("purchase-id", "", "unique purchase id used for deduplication")
	deliverCmd.Flags().String("moonpay-tx", "", "MoonPay transaction id, if any")
	_ = deliverCmd.MarkFlagRequired("wallet")
	_ = deliverCmd.MarkFlagRequired("amount")
	_ = deliverCmd.MarkFlagRequired("purchase-id")

	waitCmd.Flags().Int("attempts", poller.DefaultMaxAttempts, "maximum lookups")
	waitCmd.Flags().Duration("interval", poller.DefaultInterval, "time between lookups")
	waitCmd.Flags().Duration("initial-delay", poller.DefaultInitialDelay, "time before the first lookup")

	rootCmd.AddCommand(deliverCmd, waitCmd)
}
