package persona

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRenderUsesBusinessZone(t *testing.T) {
	// 03:00 UTC is still the previous day in UTC-5.
	now := time.Date(2026, time.March, 1, 3, 0, 0, 0, time.UTC)
	got := Render("Hoy es {fecha_actual}. Fecha: {fecha_actual}", now)
	assert.Equal(t, "Hoy es 28/02/2026. Fecha: 28/02/2026", got)
}

func TestLoadProfileDefaults(t *testing.T) {
	p, err := LoadProfile("")
	require.NoError(t, err)
	assert.Equal(t, "Gabriela", p.Name)
	assert.Equal(t, "agendar_cita", p.ToolName("book_appointment"))
	assert.Equal(t, "llamada terminada", p.Messages.CallEnded)
}

func TestLoadProfileOverrides(t *testing.T) {
	path := writeFile(t, "agent.yaml", `
name: Sofia
voice: voice-123
tool_names:
  search_knowledge: consultar_catalogo
messages:
  transfer_done: Listo, le transfiero.
`)
	p, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, "Sofia", p.Name)
	assert.Equal(t, "voice-123", p.Voice)
	assert.Equal(t, "consultar_catalogo", p.ToolName("search_knowledge"))
	assert.Equal(t, "agendar_cita", p.ToolName("book_appointment"), "unlisted tools keep defaults")
	assert.Equal(t, "Listo, le transfiero.", p.Messages.TransferDone)
	assert.Equal(t, DefaultMessages().KnowledgeError, p.Messages.KnowledgeError)
	assert.Equal(t, "unknown", p.ToolName("unknown"))
}

func TestLoadProfileInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax", "name: [unclosed"},
		{"empty name", "name: ''"},
		{"duplicate tool", "tool_names:\n  end_call: agendar_cita\n"},
		{"refusal without verb", "messages:\n  booking_refused: faltan datos\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProfile(writeFile(t, "agent.yaml", tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidProfile)
		})
	}
}

func TestLoad(t *testing.T) {
	prompt := writeFile(t, "prompt.txt", "\n  Eres Gabriela. Hoy es {fecha_actual}.\n")
	now := time.Date(2026, time.October, 19, 15, 0, 0, 0, time.UTC)

	p, err := Load("", prompt, now)
	require.NoError(t, err)
	assert.Equal(t, "Eres Gabriela. Hoy es 19/10/2026.", p.Instructions)
	assert.Equal(t, "Gabriela", p.Profile.Name)
}

func TestLoadInstructionsErrors(t *testing.T) {
	_, err := LoadInstructions(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	_, err = LoadInstructions(writeFile(t, "blank.txt", "  \n\t"))
	assert.ErrorIs(t, err, ErrEmptyInstructions)
}

func TestShippedAssets(t *testing.T) {
	p, err := Load("../../profiles/gabriela.yaml", "../../prompts/gabriela.txt", time.Now())
	require.NoError(t, err)
	assert.NotContains(t, p.Instructions, DatePlaceholder)
	for canonical := range DefaultProfile().ToolNames {
		assert.Contains(t, p.Instructions, p.Profile.ToolName(canonical))
	}
}
