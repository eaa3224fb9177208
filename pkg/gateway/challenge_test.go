package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
)

func TestIssueChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.e.IssueChallenge(ctx)
	require.NoError(t, err)
	assert.Len(t, issued.Nonce, 32)
	assert.Equal(t, 8, issued.Difficulty)

	difficulty, ok, err := f.cache.GetChallenge(ctx, issued.Nonce)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 8, difficulty)
}

func TestConsumeChallengeBurnsNonce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.e.IssueChallenge(ctx)
	require.NoError(t, err)
	solved := solve(t, issued)

	require.NoError(t, f.e.consumeChallenge(ctx, solved))

	// A nonce admits exactly one message.
	err = f.e.consumeChallenge(ctx, solved)
	assert.True(t, errdefs.IsKind(err, errdefs.KindChallengeFailed))
}

func TestConsumeChallengeUnknownNonce(t *testing.T) {
	f := newFixture(t)

	err := f.e.consumeChallenge(context.Background(), message.Challenge{Nonce: "never-issued", Solution: 1})
	assert.True(t, errdefs.IsKind(err, errdefs.KindChallengeFailed))
}

func TestConsumeChallengeRejectsWeakSolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A difficulty no small counter satisfies.
	require.NoError(t, f.cache.SaveChallenge(ctx, "hard-nonce", 64))

	err := f.e.consumeChallenge(ctx, message.Challenge{Nonce: "hard-nonce", Solution: 12345})
	assert.True(t, errdefs.IsKind(err, errdefs.KindChallengeFailed))

	// A failed solution does not burn the nonce.
	_, ok, err := f.cache.GetChallenge(ctx, "hard-nonce")
	require.NoError(t, err)
	assert.True(t, ok)
}
