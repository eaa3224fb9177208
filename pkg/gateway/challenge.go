package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/pow"
)

// Challenge is handed to a prospective peer before an admission
// message is accepted from it.
type Challenge struct {
	Nonce      string `json:"nonce"`
	Difficulty int    `json:"difficulty"`
}

// IssueChallenge mints a fresh proof of work challenge. The nonce is
// remembered for the cache's challenge TTL, and a solution presented
// after that window is rejected.
func (e *Engine) IssueChallenge(ctx context.Context) (*Challenge, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating challenge nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	if err := e.cache.SaveChallenge(ctx, nonce, e.difficulty); err != nil {
		return nil, err
	}

	return &Challenge{Nonce: nonce, Difficulty: e.difficulty}, nil
}

// consumeChallenge validates a solved challenge and burns the nonce.
// Each issued nonce admits exactly one message, so a replayed
// handshake fails here even inside the TTL window.
func (e *Engine) consumeChallenge(ctx context.Context, challenge message.Challenge) error {
	difficulty, ok, err := e.cache.GetChallenge(ctx, challenge.Nonce)
	if err != nil {
		return err
	}
	if !ok {
		return errdefs.ChallengeFailed("unknown or expired challenge nonce")
	}

	if !pow.Verify(challenge.Nonce, difficulty, challenge.Solution) {
		return errdefs.ChallengeFailed("challenge solution does not meet difficulty")
	}

	if _, err := e.cache.DeleteChallenge(ctx, challenge.Nonce); err != nil {
		return err
	}
	return nil
}
