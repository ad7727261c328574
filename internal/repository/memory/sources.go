package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/pkg/errors"
)

// SignalSourceStore is an in-process signal source repository
type SignalSourceStore struct {
	mu      sync.Mutex
	sources map[uuid.UUID]*domain.SignalSource
}

func NewSignalSourceStore() *SignalSourceStore {
	return &SignalSourceStore{sources: make(map[uuid.UUID]*domain.SignalSource)}
}

func (s *SignalSourceStore) GetByAPIKey(_ context.Context, apiKey string) (*domain.SignalSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, source := range s.sources {
		if !source.IsActive {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(source.APIKeyHash), []byte(apiKey)) == nil {
			src := *source
			return &src, nil
		}
	}
	return nil, &errors.ErrUnauthorized{Message: "invalid API key"}
}

func (s *SignalSourceStore) GetByID(_ context.Context, id uuid.UUID) (*domain.SignalSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "signal source", ID: id.String()}
	}
	src := *source
	return &src, nil
}

func (s *SignalSourceStore) Create(_ context.Context, source *domain.SignalSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	now := time.Now()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now
	src := *source
	s.sources[source.ID] = &src
	return nil
}

func (s *SignalSourceStore) Update(_ context.Context, source *domain.SignalSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[source.ID]; !ok {
		return &errors.ErrNotFound{Resource: "signal source", ID: source.ID.String()}
	}
	source.UpdatedAt = time.Now()
	src := *source
	s.sources[source.ID] = &src
	return nil
}
