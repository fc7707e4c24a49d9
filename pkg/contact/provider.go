package contact

import (
	"context"
	"errors"
	"sync"
)

// ErrContactNotFound indicates a contact was not found by the given identifier.
var ErrContactNotFound = errors.New("contact not found")

// Provider is the external contact store collaborator. All mutations are
// idempotent: add-if-absent, remove-if-present, last-write-wins for fields.
// A duplicate execution after a crash therefore self-corrects.
type Provider interface {
	Snapshot(ctx context.Context, contactID string) (*Snapshot, error)
	AddTag(ctx context.Context, contactID, tag string) error
	RemoveTag(ctx context.Context, contactID, tag string) error
	AddToList(ctx context.Context, contactID string, listID int64) error
	RemoveFromList(ctx context.Context, contactID string, listID int64) error
	SetField(ctx context.Context, contactID, field, value string) error
}

// MemoryProvider is an in-memory Provider for tests and local development.
type MemoryProvider struct {
	mu       sync.RWMutex
	contacts map[string]*Snapshot
}

// NewMemoryProvider creates an empty in-memory contact provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{contacts: make(map[string]*Snapshot)}
}

// Put stores or replaces a contact.
func (p *MemoryProvider) Put(snapshot *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.contacts[snapshot.ID] = snapshot
}

// Snapshot returns a copy of the contact's current state.
func (p *MemoryProvider) Snapshot(ctx context.Context, contactID string) (*Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stored, ok := p.contacts[contactID]
	if !ok {
		return nil, ErrContactNotFound
	}

	copied := &Snapshot{
		ID:           stored.ID,
		Email:        stored.Email,
		Attributes:   make(map[string]string, len(stored.Attributes)),
		CustomFields: make(map[string]string, len(stored.CustomFields)),
		Tags:         append([]string(nil), stored.Tags...),
		ListIDs:      append([]int64(nil), stored.ListIDs...),
	}

	for k, v := range stored.Attributes {
		copied.Attributes[k] = v
	}

	for k, v := range stored.CustomFields {
		copied.CustomFields[k] = v
	}

	return copied, nil
}

// AddTag attaches a tag if absent.
func (p *MemoryProvider) AddTag(ctx context.Context, contactID, tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.contacts[contactID]
	if !ok {
		return ErrContactNotFound
	}

	for _, t := range stored.Tags {
		if t == tag {
			return nil
		}
	}

	stored.Tags = append(stored.Tags, tag)

	return nil
}

// RemoveTag detaches a tag if present.
func (p *MemoryProvider) RemoveTag(ctx context.Context, contactID, tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.contacts[contactID]
	if !ok {
		return ErrContactNotFound
	}

	kept := stored.Tags[:0]

	for _, t := range stored.Tags {
		if t != tag {
			kept = append(kept, t)
		}
	}

	stored.Tags = kept

	return nil
}

// AddToList adds a list membership if absent.
func (p *MemoryProvider) AddToList(ctx context.Context, contactID string, listID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.contacts[contactID]
	if !ok {
		return ErrContactNotFound
	}

	for _, id := range stored.ListIDs {
		if id == listID {
			return nil
		}
	}

	stored.ListIDs = append(stored.ListIDs, listID)

	return nil
}

// RemoveFromList removes a list membership if present.
func (p *MemoryProvider) RemoveFromList(ctx context.Context, contactID string, listID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.contacts[contactID]
	if !ok {
		return ErrContactNotFound
	}

	kept := stored.ListIDs[:0]

	for _, id := range stored.ListIDs {
		if id != listID {
			kept = append(kept, id)
		}
	}

	stored.ListIDs = kept

	return nil
}

// SetField writes a standard attribute when the name already exists there,
// otherwise a custom field.
func (p *MemoryProvider) SetField(ctx context.Context, contactID, field, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.contacts[contactID]
	if !ok {
		return ErrContactNotFound
	}

	if _, standard := stored.Attributes[field]; standard {
		stored.Attributes[field] = value

		return nil
	}

	if stored.CustomFields == nil {
		stored.CustomFields = make(map[string]string)
	}

	stored.CustomFields[field] = value

	return nil
}
