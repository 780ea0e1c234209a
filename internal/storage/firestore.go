package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/medfix/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStorage keeps user profiles in a Firestore collection, one
// document per auth user id.
//
// Used by deployments whose profile table lives in Firestore rather than in
// the auth backend's Postgres.
type FirestoreStorage struct {
	client     *firestore.Client
	projectID  string
	collection string
}

// Ensure FirestoreStorage implements ProfileStore interface
var _ ProfileStore = (*FirestoreStorage)(nil)

// ProfileDoc represents a profile document in Firestore
type ProfileDoc struct {
	ID        string    `firestore:"id"`
	Email     string    `firestore:"email"`
	Name      string    `firestore:"name"`
	Role      string    `firestore:"role"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string) (*FirestoreStorage, error) {
	// Validate required parameters
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error

	// Firestore client with custom database
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Connected to Firestore", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{
		client:     client,
		projectID:  projectID,
		collection: collection,
	}, nil
}

// UpsertProfile writes the profile document, replacing any previous values
func (s *FirestoreStorage) UpsertProfile(ctx context.Context, profile Profile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile id is required")
	}

	doc := ProfileDoc{
		ID:        profile.ID,
		Email:     profile.Email,
		Name:      profile.Name,
		Role:      profile.Role,
		UpdatedAt: time.Now(),
	}

	if _, err := s.client.Collection(s.collection).Doc(profile.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile document by user id
func (s *FirestoreStorage) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	snap, err := s.client.Collection(s.collection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile from Firestore: %w", err)
	}

	var doc ProfileDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	return &Profile{
		ID:    doc.ID,
		Email: doc.Email,
		Name:  doc.Name,
		Role:  doc.Role,
	}, nil
}

// ListProfiles returns every profile in the collection
func (s *FirestoreStorage) ListProfiles(ctx context.Context) ([]Profile, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	var profiles []Profile
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate profiles: %w", err)
		}

		var doc ProfileDoc
		if err := snap.DataTo(&doc); err != nil {
			log.LogError("Failed to unmarshal profile (id: %s): %v", snap.Ref.ID, err)
			continue
		}
		profiles = append(profiles, Profile{ID: doc.ID, Email: doc.Email, Name: doc.Name, Role: doc.Role})
	}

	return profiles, nil
}

// Close closes the Firestore client
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
