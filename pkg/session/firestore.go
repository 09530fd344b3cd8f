package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/illmade-knight/go-diwane/pkg/types"
)

// FirestoreConfig holds configuration for the Firestore session store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
	SessionKey     string
}

// sessionDoc is the stored document. The user is kept as JSON so the document
// shape follows the resource store's wire format.
type sessionDoc struct {
	User    string    `firestore:"user"`
	SavedAt time.Time `firestore:"savedAt"`
}

// FirestoreStore is a Store suitable for small deployments where a dedicated
// Redis instance is not available.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	key        string
	logger     zerolog.Logger
}

// NewFirestoreStore creates a FirestoreStore. The client's lifecycle is managed
// by the caller.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" || cfg.SessionKey == "" {
		return nil, errors.New("firestore session store needs a collection name and a session key")
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")
	return &FirestoreStore{
		client:     client,
		collection: cfg.CollectionName,
		key:        cfg.SessionKey,
		logger:     logger.With().Str("component", "FirestoreSessionStore").Logger(),
	}, nil
}

func (s *FirestoreStore) doc() *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(s.key)
}

// Save creates or overwrites the session document.
func (s *FirestoreStore) Save(ctx context.Context, user types.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal session user: %w", err)
	}
	if _, err := s.doc().Set(ctx, sessionDoc{User: string(data), SavedAt: time.Now().UTC()}); err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to write session document.")
		return fmt.Errorf("firestore set for %s: %w", s.key, err)
	}
	return nil
}

// Load reads the session document.
func (s *FirestoreStore) Load(ctx context.Context) (types.User, error) {
	snap, err := s.doc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.User{}, ErrNoSession
		}
		return types.User{}, fmt.Errorf("firestore get for %s: %w", s.key, err)
	}
	var d sessionDoc
	if err := snap.DataTo(&d); err != nil {
		return types.User{}, fmt.Errorf("firestore DataTo for %s: %w", s.key, err)
	}
	var user types.User
	if err := json.Unmarshal([]byte(d.User), &user); err != nil {
		return types.User{}, fmt.Errorf("failed to unmarshal session for %s: %w", s.key, err)
	}
	return user, nil
}

// Clear deletes the session document. A missing document is not an error.
func (s *FirestoreStore) Clear(ctx context.Context) error {
	if _, err := s.doc().Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("firestore delete for %s: %w", s.key, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	return nil
}
