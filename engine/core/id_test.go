package core_test

import (
	"testing"

	"github.com/compozy/ragchain/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID(t *testing.T) {
	t.Run("Should report zero value", func(t *testing.T) {
		var id core.ID
		assert.True(t, id.IsZero())
		assert.False(t, core.ID("q-1").IsZero())
	})
	t.Run("Should generate unique parseable ids", func(t *testing.T) {
		first := core.MustNewID()
		second := core.MustNewID()
		assert.NotEqual(t, first, second)
		parsed, err := core.ParseID(first.String())
		require.NoError(t, err)
		assert.Equal(t, first, parsed)
	})
	t.Run("Should reject empty and malformed ids", func(t *testing.T) {
		_, err := core.ParseID("")
		assert.ErrorContains(t, err, "empty ID")
		id, err := core.ParseID("not-a-valid-ksuid")
		assert.ErrorContains(t, err, "invalid ID format")
		assert.True(t, id.IsZero())
	})
}

func TestCloneMap(t *testing.T) {
	t.Run("Should copy entries without aliasing", func(t *testing.T) {
		src := map[string]any{"path": "a.txt"}
		dst := core.CloneMap(src)
		dst["path"] = "b.txt"
		assert.Equal(t, "a.txt", src["path"])
	})
	t.Run("Should return nil for empty input", func(t *testing.T) {
		assert.Nil(t, core.CloneMap(map[string]int{}))
	})
}
