package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Ensure MemoryStorage implements required interfaces
var _ ProfileStore = (*MemoryStorage)(nil)
var _ SnapshotStore = (*MemoryStorage)(nil)

// MemoryStorage is a simple storage layer - only stores and retrieves data
type MemoryStorage struct {
	profiles      map[string]Profile // map[userID] = Profile
	profilesMutex sync.RWMutex
	snapshot      *SessionSnapshot
	snapshotMutex sync.Mutex
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		profiles: make(map[string]Profile),
	}
}

// UpsertProfile creates or replaces the profile row for profile.ID
func (s *MemoryStorage) UpsertProfile(ctx context.Context, profile Profile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile id is required")
	}

	s.profilesMutex.Lock()
	defer s.profilesMutex.Unlock()

	s.profiles[profile.ID] = profile
	return nil
}

// GetProfile retrieves a profile by user id
func (s *MemoryStorage) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	s.profilesMutex.RLock()
	defer s.profilesMutex.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &profile, nil
}

// ListProfiles returns all profiles ordered by id
func (s *MemoryStorage) ListProfiles(ctx context.Context) ([]Profile, error) {
	s.profilesMutex.RLock()
	defer s.profilesMutex.RUnlock()

	profiles := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

// Load returns the saved session snapshot
func (s *MemoryStorage) Load(ctx context.Context) (*SessionSnapshot, error) {
	s.snapshotMutex.Lock()
	defer s.snapshotMutex.Unlock()

	if s.snapshot == nil {
		return nil, ErrSnapshotNotFound
	}
	snap := *s.snapshot
	return &snap, nil
}

// Save replaces the saved session snapshot
func (s *MemoryStorage) Save(ctx context.Context, snapshot SessionSnapshot) error {
	s.snapshotMutex.Lock()
	defer s.snapshotMutex.Unlock()

	s.snapshot = &snapshot
	return nil
}

// Clear removes the saved session snapshot
func (s *MemoryStorage) Clear(ctx context.Context) error {
	s.snapshotMutex.Lock()
	defer s.snapshotMutex.Unlock()

	s.snapshot = nil
	return nil
}
