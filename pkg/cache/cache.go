package cache

import (
	"context"
	"time"

	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// ChallengeTTL is how long an issued proof of work challenge stays
// valid.
const ChallengeTTL = 300 * time.Second

// Cache stores hot state shared between request handlers: issued proof
// of work challenges and the live routes to peers. The route table is
// the single source of truth for whether a peer is currently
// reachable.
type Cache interface {
	// SaveChallenge records an issued challenge under its nonce.
	SaveChallenge(ctx context.Context, nonce string, difficulty int) error

	// GetChallenge returns the difficulty for nonce. ok is false when
	// the nonce is unknown or the challenge has expired.
	GetChallenge(ctx context.Context, nonce string) (difficulty int, ok bool, err error)

	// DeleteChallenge consumes a nonce so it cannot be presented again,
	// reporting whether an entry existed.
	DeleteChallenge(ctx context.Context, nonce string) (bool, error)

	// SaveRoute stores the route under the peer's node ID, replacing
	// any previous entry.
	SaveRoute(ctx context.Context, route *types.Route) error

	// GetRoute returns the live route to nodeID, or nil when there is
	// none.
	GetRoute(ctx context.Context, nodeID string) (*types.Route, error)

	// DeleteRoute removes the route to nodeID, reporting whether an
	// entry existed.
	DeleteRoute(ctx context.Context, nodeID string) (bool, error)

	// Close releases driver resources.
	Close() error
}
