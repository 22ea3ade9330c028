package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ampc/internal/amp"
	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
	"github.com/roach88/ampc/internal/testutil"
)

func TestNewCompilation_Success(t *testing.T) {
	g := testutil.PerUseSite()
	hash := ir.MustGraphHash(g)
	res, err := amp.Run(g, amp.Options{})
	require.NoError(t, err)

	c, err := NewCompilation(g.Name, hash, policy.Default(), res, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, c.Status)
	assert.Equal(t, "per_use_site", c.GraphName)
	assert.Equal(t, hash, c.ProgramHash)
	assert.Equal(t, policy.Default().Version(), c.PolicyVersion)
	assert.Equal(t, policy.Default().Hash(), c.PolicyHash)
	assert.Equal(t, 2, c.CastsInserted)
	require.Len(t, c.Casts, 2)
	assert.Equal(t, Cast{NodeID: c.Casts[0].NodeID, Op: "mm", InputIndex: 0, From: "float32", To: "float16", Policy: "cast_to_lower"}, c.Casts[0])
	assert.Equal(t, "addcmul", c.Casts[1].Op)
	assert.Equal(t, "float64", c.Casts[1].To)

	s := createTestStore(t)
	stored, err := s.WriteCompilation(context.Background(), c)
	require.NoError(t, err)
	got, found, err := s.LookupSuccess(context.Background(), hash, policy.Default().Hash())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, stored.ID, got.ID)
}

func TestNewCompilation_Rejected(t *testing.T) {
	g := testutil.BannedInRegion()
	_, runErr := amp.Run(g, amp.Options{})
	require.Error(t, runErr)

	c, err := NewCompilation(g.Name, "h", policy.Default(), nil, runErr)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, c.Status)
	assert.Equal(t, "E205", c.DiagCode)
	assert.Contains(t, c.DiagMessage, "binary_cross_entropy")
	assert.Equal(t, "UnsafeAutocastOp", c.DiagDetails["kind"])
	assert.Zero(t, c.CastsInserted)
	assert.Empty(t, c.Casts)
}

func TestNewCompilation_OtherErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewCompilation("g", "h", policy.Default(), nil, boom)
	assert.Same(t, boom, err)

	_, err = NewCompilation("g", "h", policy.Default(), nil, nil)
	assert.ErrorContains(t, err, "no result for g")
}
