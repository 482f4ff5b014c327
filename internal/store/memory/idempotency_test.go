package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStoreLookupMiss(t *testing.T) {
	s := NewIdempotencyStore()
	_, _, found, err := s.Lookup(context.Background(), "shell", "key-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdempotencyStoreRecordThenLookup(t *testing.T) {
	s := NewIdempotencyStore()
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "shell", "key-1", "deadbeef", "urn:shell:1"))

	hash, id, found, err := s.Lookup(ctx, "shell", "key-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "deadbeef", hash)
	assert.Equal(t, "urn:shell:1", id)
}

func TestIdempotencyStoreKeysScopedByEntityType(t *testing.T) {
	s := NewIdempotencyStore()
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, "shell", "key-1", "hash-a", "urn:shell:1"))

	_, _, found, err := s.Lookup(ctx, "submodel", "key-1")
	require.NoError(t, err)
	assert.False(t, found)
}
