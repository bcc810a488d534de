package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func init() {
	color.NoColor = true
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name   string
		print  func(*Printer)
		want   string
		symbol string
	}{
		{"success", func(p *Printer) { p.Success("Delivered %d tokens", 5) }, "Delivered 5 tokens", "✓"},
		{"error", func(p *Printer) { p.Error("Failed on %s", "freeze") }, "Failed on freeze", "✗"},
		{"warn", func(p *Printer) { p.Warn("Degraded %d%%", 95) }, "Degraded 95%", "⚠"},
		{"info", func(p *Printer) { p.Info("Rate %s", "220") }, "Rate 220", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.print(New(&buf))

			assert.Contains(t, buf.String(), tt.want)
			if tt.symbol != "" {
				assert.True(t, strings.HasPrefix(buf.String(), tt.symbol))
			}
		})
	}
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf).JSON(map[string]interface{}{"name": "test", "count": 42}))

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "test", parsed["name"])
	assert.Contains(t, buf.String(), "\n  ")
}

func TestYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf).YAML(map[string]interface{}{"server": map[string]int{"port": 3002}}))

	var parsed map[string]map[string]int
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, 3002, parsed["server"]["port"])
}

func TestTable(t *testing.T) {
	table := NewTable("SIGNATURE", "AMOUNT")
	table.AddRow("5xYz", "1100")
	table.AddRow("a-much-longer-signature", "2.5")

	var buf bytes.Buffer
	New(&buf).Table(table)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "SIGNATURE"+strings.Repeat(" ", 14+2)+"AMOUNT", strings.TrimRight(lines[0], " "))
	assert.True(t, strings.HasPrefix(lines[1], strings.Repeat("-", 23)))
	assert.Contains(t, lines[3], "a-much-longer-signature  2.5")
	assert.Equal(t, 2, table.Len())
}
