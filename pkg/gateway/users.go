package gateway

import (
	"context"
	"fmt"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// CreateUser registers a local user and mints its signing keypair. The
// public half is recorded so peers can verify messages sent on the
// user's behalf.
func (e *Engine) CreateUser(ctx context.Context, userID string) (*types.User, error) {
	if userID == "" {
		return nil, errdefs.ConfigurationParsing("user id is required")
	}
	if _, err := e.db.Users().Get(userID); err == nil {
		return nil, errdefs.ConfigurationParsing(fmt.Sprintf("user already exists: %s", userID))
	}

	publicKey, err := e.kms.GenerateUserKey(ctx, userID)
	if err != nil {
		return nil, err
	}

	user := &types.User{
		UserID:    userID,
		PublicKey: publicKey,
	}
	if err := e.db.Users().Save(user); err != nil {
		return nil, err
	}

	e.logger.Info().Str("user_id", userID).Msg("User created")
	return user, nil
}

// ListUsers returns every local user.
func (e *Engine) ListUsers(ctx context.Context) ([]*types.User, error) {
	return e.db.Users().List()
}

// DeleteUser removes a local user record. Key material is retained so
// previously signed messages stay verifiable.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	if _, err := e.db.Users().Get(userID); err != nil {
		return err
	}
	return e.db.Users().Delete(userID)
}

// UserMapping returns the active inbound user ID mapping. An instance
// that never configured one maps IDs through unchanged.
func (e *Engine) UserMapping(ctx context.Context) (*types.UserMapping, error) {
	return e.db.Users().GetMapping()
}

// SetUserMapping validates and replaces the inbound user ID mapping.
func (e *Engine) SetUserMapping(ctx context.Context, mapping *types.UserMapping) error {
	if err := mapping.Validate(); err != nil {
		return errdefs.ConfigurationParsing(err.Error())
	}
	return e.db.Users().SaveMapping(mapping)
}
