package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/illmade-knight/go-diwane/pkg/types"
)

var (
	// ErrEmailTaken is returned by Register when another user has the email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned by Login when no user matches.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Login looks the user up in the users listing and stores it as the current
// session. Credentials are compared as stored by the resource store.
func (c *Client) Login(ctx context.Context, email, password string) (types.User, error) {
	users, err := c.FetchResource(ctx, types.Users, nil)
	if err != nil {
		return types.User{}, err
	}
	for _, r := range users {
		u, ok := r.(types.User)
		if ok && strings.EqualFold(u.Email, email) && u.Password == password {
			if err := c.sessions.Save(ctx, u); err != nil {
				return types.User{}, fmt.Errorf("failed to save session: %w", err)
			}
			c.logger.Info().Str("user_id", u.ID.String()).Msg("User signed in.")
			return u, nil
		}
	}
	return types.User{}, ErrInvalidCredentials
}

// CurrentUser returns the signed-in user or session.ErrNoSession.
func (c *Client) CurrentUser(ctx context.Context) (types.User, error) {
	return c.sessions.Load(ctx)
}

// Register creates a member account. The role is always membre regardless of
// what u carries.
func (c *Client) Register(ctx context.Context, u types.User) (types.User, error) {
	users, err := c.FetchResource(ctx, types.Users, nil)
	if err != nil {
		return types.User{}, err
	}
	for _, r := range users {
		if existing, ok := r.(types.User); ok && strings.EqualFold(existing.Email, u.Email) {
			return types.User{}, fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
		}
	}

	u.ID = ""
	u.Role = types.RoleMembre
	u.DateCreation = c.now().UTC().Format(time.RFC3339)
	created, err := c.CreateResource(ctx, types.Users, u)
	if err != nil {
		return types.User{}, err
	}
	return created.(types.User), nil
}

// UpdateProfile saves the name, email and, when non-empty, the password of the
// signed-in user, then refreshes the session with the stored record.
func (c *Client) UpdateProfile(ctx context.Context, nom, email, password string) (types.User, error) {
	current, err := c.sessions.Load(ctx)
	if err != nil {
		return types.User{}, err
	}
	updated := current
	updated.Nom = nom
	updated.Email = email
	if password != "" {
		updated.Password = password
	}

	stored, err := c.UpdateResource(ctx, types.Users, current.ID, updated)
	if err != nil {
		return types.User{}, err
	}
	u := stored.(types.User)
	if err := c.sessions.Save(ctx, u); err != nil {
		return types.User{}, fmt.Errorf("failed to save session: %w", err)
	}
	return u, nil
}

// Logout drops the cache, the canonical state and the session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.cache.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	c.state.Clear()
	if err := c.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	c.logger.Info().Msg("Signed out.")
	return nil
}
