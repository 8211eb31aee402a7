package mmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapAnon(t *testing.T) {
	ext, err := MapAnon(8 * 8192)
	require.NoError(t, err)
	assert.Equal(t, 8*8192, ext.Size())

	// Anonymous memory starts zeroed and is writable.
	data := ext.Bytes()
	assert.Equal(t, byte(0), data[100])
	data[100] = 7

	s, err := ext.Slice(0, 8192)
	require.NoError(t, err)
	assert.Equal(t, byte(7), s[100])
	assert.Equal(t, 8192, cap(s))

	_, err = ext.Slice(7*8192, 2*8192)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	require.NoError(t, ext.Advise(AccessRandom))

	require.NoError(t, ext.Close())
	require.NoError(t, ext.Close())
	assert.Nil(t, ext.Bytes())
	_, err = ext.Slice(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ext.Advise(AccessDontNeed), ErrClosed)
}

func TestMapAnonInvalidSize(t *testing.T) {
	_, err := MapAnon(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}
