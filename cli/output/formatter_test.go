package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

var modules = TableData{
	Headers: []string{"ID", "MODULE"},
	Rows:    [][]string{{"0", "src/util.js"}, {"1", "src/main.js"}},
}

func TestPrintTable(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		NewFormatterTo(FormatTable, &buf, false, false).PrintTable(modules)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, lines[0], "MODULE")
		assert.Contains(t, lines[1], "src/util.js")
	})

	t.Run("no headers", func(t *testing.T) {
		var buf bytes.Buffer
		NewFormatterTo(FormatTable, &buf, true, false).PrintTable(modules)
		assert.NotContains(t, buf.String(), "MODULE")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		NewFormatterTo(FormatJSON, &buf, false, false).PrintTable(modules)
		assert.JSONEq(t, `[{"id":"0","module":"src/util.js"},{"id":"1","module":"src/main.js"}]`, buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		NewFormatterTo(FormatYAML, &buf, false, false).PrintTable(modules)
		assert.Contains(t, buf.String(), "- id: \"0\"\n  module: src/util.js\n")
	})

	t.Run("quiet", func(t *testing.T) {
		var buf bytes.Buffer
		NewFormatterTo(FormatTable, &buf, false, true).PrintTable(modules)
		assert.Empty(t, buf.String())
	})
}

func TestMessages(t *testing.T) {
	var out, errOut bytes.Buffer
	f := NewFormatterTo(FormatTable, &out, false, true)
	f.ErrWriter = &errOut

	f.PrintSuccess("done")
	f.PrintWarning("careful")
	f.PrintError("cannot resolve ./x")

	assert.Empty(t, out.String())
	assert.Equal(t, "Error: cannot resolve ./x\n", errOut.String())
}
