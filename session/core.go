// Package session exposes every user-facing operation behind a login gate.
// A Core holds the shared components; each client gets its own Session.
package session

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"skillswap/auth"
	"skillswap/chat"
	"skillswap/config"
	"skillswap/connect"
	"skillswap/db"
	"skillswap/logger"
	"skillswap/match"
	"skillswap/models"
	"skillswap/skills"
)

type Core struct {
	Auth        *auth.Service
	Profiles    *skills.Store
	Matcher     *match.Finder
	Connections *connect.Protocol
	Chats       *chat.Store

	db *db.DB
}

// NewCore wires the components over database and loads every collection.
// Channels missing for a recorded connection are recreated.
func NewCore(ctx context.Context, database *db.DB, cfg *config.Config) (*Core, error) {
	authSvc := auth.New(database, cfg.EmailSuffix, cfg.BcryptCost)
	profiles := skills.NewStore(database, authSvc)
	chats := chat.NewStore(database)
	c := &Core{
		Auth:        authSvc,
		Profiles:    profiles,
		Matcher:     match.NewFinder(profiles),
		Connections: connect.New(database, profiles, chats),
		Chats:       chats,
		db:          database,
	}

	if err := c.Profiles.Load(ctx); err != nil {
		return nil, err
	}
	if err := c.Connections.Load(ctx); err != nil {
		return nil, err
	}
	if err := c.Chats.Load(ctx); err != nil {
		return nil, err
	}

	for _, pair := range c.Connections.Pairs() {
		if err := c.Chats.Open(ctx, pair); err != nil {
			logger.G(ctx).WithError(err).WithField("pair", pair.String()).Warn("failed to restore channel")
		}
	}
	return c, nil
}

// Announce delivers a text notification to every registered user.
func (c *Core) Announce(ctx context.Context, text string) ([]models.Notification, error) {
	users, err := c.db.Users(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return c.Connections.Announce(ctx, users, text)
}

// Flush re-saves every collection, reporting all failures together.
func (c *Core) Flush(ctx context.Context) error {
	var result *multierror.Error
	if err := c.Profiles.Flush(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Connections.Flush(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Chats.Flush(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
