package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testULID = "01HYX3KQW7ERTV9XNBM2P8QJZF"

func TestNewULIDReturnsValid(t *testing.T) {
	value, err := NewULID()

	require.NoError(t, err)
	require.NoError(t, ValidateULID(value))
}

func TestNewULIDIsSortable(t *testing.T) {
	first, err := NewULID()
	require.NoError(t, err)
	second, err := NewULID()
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.LessOrEqual(t, first[:10], second[:10])
}

func TestIsULIDAndValidateULID(t *testing.T) {
	require.True(t, IsULID(testULID))
	require.True(t, IsULID(" "+testULID+" "))
	require.NoError(t, ValidateULID(testULID))

	require.False(t, IsULID("not-a-ulid"))
	require.ErrorIs(t, ValidateULID("not-a-ulid"), ErrInvalidULID)
}

func TestMessageID(t *testing.T) {
	id := MessageID("makemelearn.fr")
	require.True(t, strings.HasPrefix(id, "<"))
	require.True(t, strings.HasSuffix(id, "@makemelearn.fr>"))
	require.True(t, IsULID(strings.TrimSuffix(strings.TrimPrefix(id, "<"), "@makemelearn.fr>")))

	require.True(t, strings.HasSuffix(MessageID(""), "@localhost>"))
	require.True(t, strings.HasSuffix(MessageID("@example.com"), "@example.com>"))
}
