package advisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predictive-maintenance/machine"
	"predictive-maintenance/risk"
)

type fakeGenerator struct {
	prompt string
	reply  string
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func TestAdvise(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "  **Check the spindle** bearings.  "}
	p := machine.Profile{MachineID: "M1", MachineType: "H", Features: machine.Features{Torque: 68.2, ToolWear: 210}}

	note, err := New(gen).Advise(context.Background(), p, 0.82)
	require.NoError(t, err)
	assert.Equal(t, "Check the spindle bearings.", note.Text)
	assert.Equal(t, risk.LevelHigh, note.Level)
	assert.Contains(t, gen.prompt, "Torque: 68.2 Nm")
	assert.Contains(t, gen.prompt, "82.0% (HIGH)")
}

func TestAdviseFallbackAndError(t *testing.T) {
	t.Parallel()

	note, err := New(&fakeGenerator{}).Advise(context.Background(), machine.Profile{MachineID: "M1"}, 0.1)
	require.NoError(t, err)
	assert.NotEmpty(t, note.Text)

	_, err = New(&fakeGenerator{err: errors.New("quota")}).Advise(context.Background(), machine.Profile{}, 0.1)
	assert.Error(t, err)
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewGeminiClient(context.Background(), "", "")
	assert.Error(t, err)
}
