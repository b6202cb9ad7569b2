package leads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycrm/messaging-gateway/internal/phone"
)

// Repository defines the interface for lead storage
type Repository interface {
	Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error)
	GetByID(ctx context.Context, companyID, id uuid.UUID) (*Lead, error)
	FindByPhone(ctx context.Context, companyID uuid.UUID, phoneDigits string) (*Lead, error)
	FindByInstagramID(ctx context.Context, companyID uuid.UUID, instagramID string) (*Lead, error)
}

// InMemoryRepository is a stub implementation of Repository for tests
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[uuid.UUID]*Lead
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[uuid.UUID]*Lead),
	}
}

// Create creates a new lead in memory
func (r *InMemoryRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	lead := &Lead{
		ID:          uuid.New(),
		CompanyID:   req.CompanyID,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		PhoneDigits: phone.Digits(req.Phone),
		InstagramID: req.InstagramID,
		Source:      req.Source,
		CreatedAt:   time.Now().UTC(),
	}

	r.mu.Lock()
	r.leads[lead.ID] = lead
	r.mu.Unlock()

	return lead, nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, companyID, id uuid.UUID) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok || lead.CompanyID != companyID {
		return nil, ErrLeadNotFound
	}

	return lead, nil
}

// FindByPhone matches by full digits first, then by the last ten digits.
func (r *InMemoryRepository) FindByPhone(ctx context.Context, companyID uuid.UUID, phoneDigits string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, lead := range r.leads {
		if lead.CompanyID == companyID && lead.PhoneDigits == phoneDigits {
			return lead, nil
		}
	}
	suffix := phone.Suffix10(phoneDigits)
	for _, lead := range r.leads {
		if lead.CompanyID == companyID && phone.Suffix10(lead.PhoneDigits) == suffix && suffix != "" {
			return lead, nil
		}
	}
	return nil, ErrLeadNotFound
}

// FindByInstagramID matches by the stored instagram scoped user id.
func (r *InMemoryRepository) FindByInstagramID(ctx context.Context, companyID uuid.UUID, instagramID string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, lead := range r.leads {
		if lead.CompanyID == companyID && lead.InstagramID == instagramID && instagramID != "" {
			return lead, nil
		}
	}
	return nil, ErrLeadNotFound
}
