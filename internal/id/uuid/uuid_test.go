package uuid

import (
	"testing"

	guuid "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsValidV7(t *testing.T) {
	t.Parallel()

	gen := NewGenerator()
	raw, err := gen.NewID()
	require.NoError(t, err)

	parsed, err := guuid.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, guuid.Version(7), parsed.Version())

	other, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, raw, other)
}
