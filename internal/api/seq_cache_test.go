// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package api

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fetchConst(v uint64) func(context.Context) (uint64, error) {
	return func(context.Context) (uint64, error) { return v, nil }
}

func TestSeqCache_AllocatesContiguouslyFromStoreMax(t *testing.T) {
	c := newSeqCache()
	ctx := context.Background()

	fetches := 0
	fetch := func(context.Context) (uint64, error) {
		fetches++
		return 4, nil
	}

	for want := uint64(5); want <= 8; want++ {
		got, err := c.Next(ctx, "C1", fetch)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	// Only the first allocation hits the store; the rest ride the cache.
	assert.Equal(t, 1, fetches)
}

func TestSeqCache_IsolatesCalls(t *testing.T) {
	c := newSeqCache()
	ctx := context.Background()

	a, err := c.Next(ctx, "A", fetchConst(0))
	require.NoError(t, err)
	b, err := c.Next(ctx, "B", fetchConst(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a)
	assert.Equal(t, uint64(11), b)
}

func TestSeqCache_ObserveAdvancesCounter(t *testing.T) {
	c := newSeqCache()
	ctx := context.Background()

	c.Observe("C1", 7)
	got, err := c.Next(ctx, "C1", fetchConst(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), got)

	// A lower externally supplied seq never rewinds the counter.
	c.Observe("C1", 3)
	got, err = c.Next(ctx, "C1", fetchConst(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got)
}

func TestSeqCache_InvalidateForcesRefetch(t *testing.T) {
	c := newSeqCache()
	ctx := context.Background()

	_, err := c.Next(ctx, "C1", fetchConst(0))
	require.NoError(t, err)

	c.Invalidate("C1")
	got, err := c.Next(ctx, "C1", fetchConst(20))
	require.NoError(t, err)
	assert.Equal(t, uint64(21), got)
}

func TestSeqCache_PropagatesFetchError(t *testing.T) {
	c := newSeqCache()
	_, err := c.Next(context.Background(), "C1", func(context.Context) (uint64, error) {
		return 0, errors.New("db down")
	})
	assert.Error(t, err)
}
