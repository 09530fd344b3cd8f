// Package session persists the signed-in user across application restarts.
package session

import (
	"context"
	"errors"
	"io"

	"github.com/illmade-knight/go-diwane/pkg/types"
)

// ErrNoSession is returned by Load when no user is stored.
var ErrNoSession = errors.New("no active session")

// Store keeps the current user for one session key. Implementations require
// explicit Save and Clear; there is no source of truth to fall back on.
type Store interface {
	Save(ctx context.Context, user types.User) error
	Load(ctx context.Context) (types.User, error)
	Clear(ctx context.Context) error
	io.Closer
}
