package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/config"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/dlq"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/sink"
)

func init() {
	color.NoColor = true
}

// writeConfig writes a config file rooted in a temp dir and returns its path.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`token:
  unit_price_usd: 0.10
sink:
  backend: none
  local_path: %s
dlq:
  enabled: true
  backend: file
  base_path: %s
webhook:
  secret: s3cret
%s`, filepath.Join(dir, "records.jsonl"), filepath.Join(dir, "dlq"), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dir
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	expected := map[string]bool{
		"config": false, "quote": false, "account": false, "deliver": false,
		"wait": false, "records": false, "dlq": false, "events": false, "migrate": false,
	}
	for _, cmd := range rootCmd.Commands() {
		name := strings.Fields(cmd.Use)[0]
		if _, ok := expected[name]; ok {
			expected[name] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("expected command '%s' to be registered with root command", name)
		}
	}
}

func TestSubcommands(t *testing.T) {
	tests := []struct {
		parent *cobra.Command
		want   []string
	}{
		{configCmd, []string{"show"}},
		{recordsCmd, []string{"list", "get"}},
		{dlqCmd, []string{"list", "purge"}},
		{eventsCmd, []string{"tail"}},
	}
	for _, tt := range tests {
		t.Run(tt.parent.Use, func(t *testing.T) {
			var got []string
			for _, c := range tt.parent.Commands() {
				got = append(got, strings.Fields(c.Use)[0])
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestConfigShowOmitsSecrets(t *testing.T) {
	path, _ := writeConfig(t, "")
	out, err := run(t, "config", "show", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, out, "port: 3002")
	assert.Contains(t, out, "unit_price_usd: 0.1")
	assert.NotContains(t, out, "s3cret")
}

func TestQuote(t *testing.T) {
	priceAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"solana":{"usd":150}}`)
	}))
	defer priceAPI.Close()

	path, _ := writeConfig(t, fmt.Sprintf("oracle:\n  url: %s\n", priceAPI.URL))

	t.Run("json", func(t *testing.T) {
		out, err := run(t, "quote", "--native", "1.5", "--output", "json", "--config", path)
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "150", got["rate"])
		assert.Equal(t, "2250", got["amount_owed"])
		assert.Equal(t, false, got["degraded"])
	})

	t.Run("table", func(t *testing.T) {
		out, err := run(t, "quote", "--native", "1.5", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "1.5 native buys 2250 VRE")
	})

	t.Run("invalid native", func(t *testing.T) {
		_, err := run(t, "quote", "--native", "-1", "--config", path)
		assert.Error(t, err)
	})
}

func TestAccountRejectsInvalidWallet(t *testing.T) {
	path, _ := writeConfig(t, "")
	_, err := run(t, "account", "not-a-wallet", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid wallet address")
}

func TestDeliver(t *testing.T) {
	path, _ := writeConfig(t, "")

	t.Run("success", func(t *testing.T) {
		var got models.FiatPurchaseRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/webhook", r.URL.Path)
			assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = io.WriteString(w, `{"success":true,"signature":"transfer-1","amount":2500,"newBalance":2600,"process":"transfer_freeze","storageMode":"remote"}`)
		}))
		defer srv.Close()

		out, err := run(t, "deliver", "--config", path, "--server", srv.URL,
			"--wallet", config.DefaultTreasury, "--amount", "2500", "--purchase-id", "manual-1")
		require.NoError(t, err)

		assert.Equal(t, models.FiatTypeDeliveryRequest, got.Type)
		assert.Equal(t, config.DefaultTreasury, got.UserWallet)
		assert.True(t, got.VREAmount.Equal(decimal.NewFromInt(2500)))
		assert.Equal(t, "manual-1", got.PurchaseID)
		assert.Contains(t, out, "Delivered 2500 VRE")
		assert.Contains(t, out, "transfer-1")
	})

	t.Run("failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"success":false,"error":"VRE delivery failed","details":"transfer failed"}`)
		}))
		defer srv.Close()

		_, err := run(t, "deliver", "--config", path, "--server", srv.URL,
			"--wallet", config.DefaultTreasury, "--amount", "10", "--purchase-id", "manual-2")
		require.Error(t, err)
		assert.Equal(t, "VRE delivery failed: transfer failed", err.Error())
	})

	t.Run("invalid amount", func(t *testing.T) {
		_, err := run(t, "deliver", "--config", path, "--server", "http://127.0.0.1:1",
			"--wallet", config.DefaultTreasury, "--amount", "zero", "--purchase-id", "manual-3")
		assert.Error(t, err)
	})
}

func TestWait(t *testing.T) {
	path, _ := writeConfig(t, "")
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(models.DeliveryRecord{
			PurchaseID:        "VRE-1",
			SourceSignature:   "payment-sig",
			TransferSignature: "transfer-sig",
			AmountDelivered:   decimal.NewFromInt(42),
			Wallet:            "wallet-1",
		})
	}))
	defer srv.Close()

	out, err := run(t, "wait", "payment-sig", "--config", path, "--server", srv.URL,
		"--initial-delay", "-1s", "--interval", "10ms", "--attempts", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Delivered 42 VRE to wallet-1")
	assert.Contains(t, out, "transfer-sig")

	_, err = run(t, "wait", "payment-sig", "--config", path, "--server", "http://127.0.0.1:1",
		"--initial-delay", "-1s", "--interval", "1ms", "--attempts", "2")
	assert.Error(t, err)
}

func TestRecords(t *testing.T) {
	path, dir := writeConfig(t, "")
	local := sink.NewLocalLog(filepath.Join(dir, "records.jsonl"), 1, 1)
	require.NoError(t, local.Write(models.DeliveryRecord{
		PurchaseID:        "VRE-100",
		SourceSignature:   "payment-sig-100",
		TransferSignature: "transfer-sig-100",
		AmountDelivered:   decimal.NewFromInt(1500),
		NewBalance:        decimal.NewFromInt(1600),
		DeliveredAt:       time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Wallet:            config.DefaultTreasury,
		SequenceKind:      models.SequenceTransferFreeze,
		Source:            "indexer",
	}))
	require.NoError(t, local.Close())

	t.Run("list", func(t *testing.T) {
		out, err := run(t, "records", "list", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "PURCHASE ID")
		assert.Contains(t, out, "VRE-100")
		assert.Contains(t, out, "transfer_freeze")
	})

	t.Run("get", func(t *testing.T) {
		out, err := run(t, "records", "get", "payment-sig-100", "--output", "json", "--config", path)
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "VRE-100", got["purchase_id"])
		assert.Equal(t, "1500", got["vre_delivered_amount"])
		assert.Equal(t, true, got["verified"])
	})

	t.Run("missing", func(t *testing.T) {
		_, err := run(t, "records", "get", "unknown", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no delivery record")
	})
}

func TestDLQ(t *testing.T) {
	path, dir := writeConfig(t, "")

	out, err := run(t, "dlq", "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "empty")

	q, err := dlq.NewQueue(filepath.Join(dir, "dlq"))
	require.NoError(t, err)
	require.NoError(t, q.Write(t.Context(), &dlq.Delivery{
		SourceSignature: "payment-sig",
		Wallet:          config.DefaultTreasury,
		Amount:          "1500",
	}, fmt.Errorf("freeze failed"), dlq.ReasonVerificationFailed))

	out, err = run(t, "dlq", "list", "--output", "json", "--config", path)
	require.NoError(t, err)
	var entries []dlq.FailedDelivery
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, dlq.ReasonVerificationFailed, entries[0].Reason)
	assert.Equal(t, "payment-sig", entries[0].Delivery.SourceSignature)

	_, err = run(t, "dlq", "purge", "--config", path)
	assert.Error(t, err)

	_, err = run(t, "dlq", "purge", "--yes", "--config", path)
	require.NoError(t, err)

	out, err = run(t, "dlq", "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "empty")
}

func TestDLQDisabled(t *testing.T) {
	path, _ := writeConfig(t, "")
	t.Setenv("VRE_DLQ_ENABLED", "false")

	_, err := run(t, "dlq", "list", "--config", path)
	assert.ErrorIs(t, err, errDLQDisabled)
}

func TestMigrateRequiresDSN(t *testing.T) {
	path, _ := writeConfig(t, "")
	_, err := run(t, "migrate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.dsn")
}

func TestEventsTailRequiresNATS(t *testing.T) {
	path, _ := writeConfig(t, "")
	_, err := run(t, "events", "tail", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats.url")
}

func TestUnknownOutputFormat(t *testing.T) {
	path, _ := writeConfig(t, "")
	_, err := run(t, "dlq", "list", "--output", "xml", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}
