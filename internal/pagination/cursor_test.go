package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCursor(t *testing.T) {
	encoded := EncodeCursor("docs/guide.md")
	require.NotEmpty(t, encoded)

	cursor, err := DecodeCursor(encoded)

	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "docs/guide.md", cursor.LastID)
}

func TestEncodeCursor_Empty(t *testing.T) {
	assert.Equal(t, "", EncodeCursor(""))
}

func TestDecodeCursor_Empty(t *testing.T) {
	cursor, err := DecodeCursor("")

	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	_, err := DecodeCursor("%%%not-base64%%%")

	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCreateNextCursor(t *testing.T) {
	type record struct{ ID string }
	getID := func(r record) string { return r.ID }

	t.Run("full page returns cursor for last item", func(t *testing.T) {
		items := []record{{ID: "a.md"}, {ID: "b.md"}}

		next := CreateNextCursor(items, 2, getID)

		require.NotEmpty(t, next)
		cursor, err := DecodeCursor(next)
		require.NoError(t, err)
		assert.Equal(t, "b.md", cursor.LastID)
	})

	t.Run("partial page returns no cursor", func(t *testing.T) {
		items := []record{{ID: "a.md"}}

		assert.Equal(t, "", CreateNextCursor(items, 2, getID))
	})

	t.Run("empty page returns no cursor", func(t *testing.T) {
		assert.Equal(t, "", CreateNextCursor([]record{}, 2, getID))
	})
}
