package upload

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaging(t *testing.T) {
	t.Run("acquire smallest fitting buffer", func(t *testing.T) {
		st := NewStaging(1024)

		b := st.Acquire(200)
		require.NotNil(t, b)
		assert.Equal(t, int64(256), b.Size())
	})

	t.Run("buffers are exclusive until released", func(t *testing.T) {
		st := NewStaging(1024)

		a := st.Acquire(256)
		b := st.Acquire(256)
		c := st.Acquire(256)
		require.NotNil(t, a)
		require.NotNil(t, b)
		require.NotNil(t, c)
		assert.Nil(t, st.Acquire(256))

		st.Release(a)
		assert.NotNil(t, st.Acquire(256))
	})

	t.Run("oversized requests get nil", func(t *testing.T) {
		st := NewStaging(1024)
		assert.Nil(t, st.Acquire(4096))
	})

	t.Run("release nil is safe", func(t *testing.T) {
		st := NewStaging(1024)
		st.Release(nil)
	})

	t.Run("clear stops reissuing", func(t *testing.T) {
		st := NewStaging(1024)
		st.Clear()
		assert.Nil(t, st.Acquire(1))
	})
}

func TestCompress(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		payload := bytes.Repeat([]byte("vertex data "), 1000)

		compressed, ok := Compress(payload)
		require.True(t, ok)
		assert.Less(t, len(compressed), len(payload))

		restored, err := Decompress(compressed, len(payload))
		require.NoError(t, err)
		assert.Equal(t, payload, restored)
	})

	t.Run("incompressible payload passes through", func(t *testing.T) {
		payload := make([]byte, 256)
		_, err := rand.Read(payload)
		require.NoError(t, err)

		out, ok := Compress(payload)
		assert.False(t, ok)
		assert.Equal(t, payload, out)
	})

	t.Run("empty payload", func(t *testing.T) {
		out, ok := Compress(nil)
		assert.False(t, ok)
		assert.Empty(t, out)
	})
}
