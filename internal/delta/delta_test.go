package delta

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestEncodeApply_RoundTrip(t *testing.T) {
	base := randomBytes(1, 256<<10)

	// New version: same content with a small edit and an appended tail
	target := append([]byte{}, base...)
	copy(target[1000:], []byte("patched region"))
	target = append(target, randomBytes(2, 4<<10)...)

	patch, err := Encode(base, target)
	require.NoError(t, err)
	assert.Less(t, len(patch), len(target)/4, "shared content should make the patch small")

	var out bytes.Buffer
	n, err := Apply(context.Background(), base, bytes.NewReader(patch), &out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(target)), n)
	assert.True(t, bytes.Equal(target, out.Bytes()))
}

func TestApply_WrongBaseProducesDifferentOutput(t *testing.T) {
	base := randomBytes(3, 64<<10)
	target := append(append([]byte{}, base[:32<<10]...), []byte("tail")...)

	patch, err := Encode(base, target)
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = Apply(context.Background(), randomBytes(4, 64<<10), bytes.NewReader(patch), &out)
	if err == nil {
		assert.False(t, bytes.Equal(target, out.Bytes()))
	}
}

func TestApply_Garbage(t *testing.T) {
	var out bytes.Buffer
	_, err := Apply(context.Background(), []byte("base"), bytes.NewReader([]byte("not a zstd frame")), &out)
	assert.Error(t, err)
}

func TestApply_Cancelled(t *testing.T) {
	base := randomBytes(5, 1024)
	patch, err := Encode(base, base)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Apply(ctx, base, bytes.NewReader(patch), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}
