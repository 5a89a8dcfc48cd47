package terminal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCbreak_NotATerminal(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	restore, err := Cbreak(r)
	require.NoError(t, err)
	require.NotNil(t, restore)
	assert.NoError(t, restore())
}

func TestCbreak_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "keys")
	require.NoError(t, err)
	defer f.Close()

	restore, err := Cbreak(f)
	require.NoError(t, err)
	assert.NoError(t, restore())
}
