package recordstore

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
)

type memoryKey struct {
	collection string
	id         string
}

type pendingPublish struct {
	visibleAt time.Time
	record    Record
}

type memoryDoc struct {
	draft     Record
	published *Record
	pending   []pendingPublish
}

// MemoryStore is an in-process Store. Published writes become visible after a
// configurable propagation delay to mimic an eventually consistent CMS.
type MemoryStore struct {
	mu    sync.Mutex
	clock quartz.Clock
	delay time.Duration
	docs  map[memoryKey]*memoryDoc
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithPropagationDelay sets how long a publish takes to become visible
func WithPropagationDelay(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.delay = d
	}
}

// WithClock injects the clock used for propagation
func WithClock(clock quartz.Clock) MemoryOption {
	return func(s *MemoryStore) {
		s.clock = clock
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		clock: quartz.NewReal(),
		docs:  make(map[memoryKey]*memoryDoc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// promote makes due pending publishes visible. Caller holds mu.
func (s *MemoryStore) promote(doc *memoryDoc) {
	now := s.clock.Now()
	remaining := doc.pending[:0]
	for _, p := range doc.pending {
		if !p.visibleAt.After(now) {
			rec := p.record
			if doc.published == nil || rec.Version >= doc.published.Version {
				doc.published = &rec
			}
			continue
		}
		remaining = append(remaining, p)
	}
	doc.pending = remaining
}

func copyRecord(r *Record) *Record {
	out := *r
	out.Fields = r.Fields.Clone()
	return &out
}

// FetchByID implements Store
func (s *MemoryStore) FetchByID(ctx context.Context, collection, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[memoryKey{collection, id}]
	if !ok {
		return nil, ErrNotFound
	}
	s.promote(doc)
	if doc.published == nil {
		return nil, ErrNotFound
	}
	return copyRecord(doc.published), nil
}

// Query implements Store
func (s *MemoryStore) Query(ctx context.Context, collection, field, value string) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for key, doc := range s.docs {
		if key.collection != collection {
			continue
		}
		s.promote(doc)
		if doc.published == nil {
			continue
		}
		var got string
		if ok, err := doc.published.Fields.Decode(field, &got); err != nil || !ok {
			continue
		}
		if got == value {
			out = append(out, copyRecord(doc.published))
		}
	}
	return out, nil
}

// Create implements Store
func (s *MemoryStore) Create(ctx context.Context, collection, id string, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{collection, id}
	if _, exists := s.docs[key]; exists {
		return "", ErrDuplicate
	}
	s.docs[key] = &memoryDoc{
		draft: Record{
			ID:         id,
			Collection: collection,
			Fields:     fields.Clone(),
			Version:    1,
			UpdatedAt:  s.clock.Now(),
		},
	}
	return id, nil
}

// Update implements Store
func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields Fields, ifVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[memoryKey{collection, id}]
	if !ok {
		return 0, ErrNotFound
	}
	if ifVersion > 0 && doc.draft.Version != ifVersion {
		return 0, ErrVersionConflict
	}

	merged := doc.draft.Fields.Clone()
	for k, v := range fields {
		merged[k] = v
	}
	doc.draft.Fields = merged
	doc.draft.Version++
	doc.draft.UpdatedAt = s.clock.Now()
	return doc.draft.Version, nil
}

// Publish implements Store
func (s *MemoryStore) Publish(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[memoryKey{collection, id}]
	if !ok {
		return ErrNotFound
	}
	snapshot := *copyRecord(&doc.draft)
	doc.pending = append(doc.pending, pendingPublish{
		visibleAt: s.clock.Now().Add(s.delay),
		record:    snapshot,
	})
	s.promote(doc)
	return nil
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

var _ Store = (*MemoryStore)(nil)
