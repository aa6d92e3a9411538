package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
	"github.com/noah-isme/pesantren-billing-api/internal/repository"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
)

// memoryStore is an in-memory stand-in for the students, batches and obligations tables.
type memoryStore struct {
	mu          sync.Mutex
	students    map[string]models.Student
	batches     map[string]models.BillingBatch
	obligations map[string]models.PaymentObligation
	entries     map[string]models.PaymentEntry
	seq         int

	createMissingErr error
	// staleWrites makes the next n ApplyPayment calls report a lost race.
	staleWrites int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		students:    map[string]models.Student{},
		batches:     map[string]models.BillingBatch{},
		obligations: map[string]models.PaymentObligation{},
		entries:     map[string]models.PaymentEntry{},
	}
}

func (m *memoryStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memoryStore) ListIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.students))
	for id := range m.students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryStore) addStudent(s models.Student) models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = m.nextID("s")
	}
	m.students[s.ID] = s
	return s
}

func (m *memoryStore) addBatch(b models.BillingBatch) models.BillingBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = m.nextID("b")
	}
	m.batches[b.ID] = b
	return b
}

// batch repository

func (m *memoryStore) List(ctx context.Context, year int) ([]models.BillingBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BillingBatch
	for _, b := range m.batches {
		if year == 0 || b.Year == year {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	return out, nil
}

func (m *memoryStore) FindByID(ctx context.Context, id string) (*models.BillingBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[id]; ok {
		return &b, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryStore) FindByPeriod(ctx context.Context, month, year int) (*models.BillingBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.Month == month && b.Year == year {
			return &b, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryStore) Create(ctx context.Context, batch *models.BillingBatch) error {
	if _, err := m.FindByPeriod(ctx, batch.Month, batch.Year); err == nil {
		return repository.ErrDuplicateBatch
	}
	*batch = m.addBatch(*batch)
	return nil
}

// obligation repository

func (m *memoryStore) CreateMissing(ctx context.Context, obligations []models.PaymentObligation) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createMissingErr != nil {
		return 0, m.createMissingErr
	}
	created := 0
	for _, o := range obligations {
		exists := false
		for _, existing := range m.obligations {
			if existing.StudentID == o.StudentID && existing.BatchID == o.BatchID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		o.ID = m.nextID("o")
		m.obligations[o.ID] = o
		created++
	}
	return created, nil
}

func (m *memoryStore) obligationsFor(batchID string) []models.PaymentObligation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentObligation
	for _, o := range m.obligations {
		if o.BatchID == batchID {
			out = append(out, o)
		}
	}
	return out
}

func (m *memoryStore) addObligation(o models.PaymentObligation) models.PaymentObligation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == "" {
		o.ID = m.nextID("o")
	}
	m.obligations[o.ID] = o
	return o
}

// paymentStore adapts memoryStore to the payment repository contract.
type paymentStore struct {
	*memoryStore
}

func (p paymentStore) FindByID(ctx context.Context, id string) (*models.PaymentObligation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.obligations[id]; ok {
		return &o, nil
	}
	return nil, sql.ErrNoRows
}

func (p paymentStore) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.PaymentRecord
	for _, o := range p.obligations {
		if filter.StudentID != "" && o.StudentID != filter.StudentID {
			continue
		}
		out = append(out, models.PaymentRecord{PaymentObligation: o})
	}
	return out, len(out), nil
}

func (p paymentStore) ListStatement(ctx context.Context, studentID string) ([]models.StatementLine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.StatementLine
	for _, o := range p.obligations {
		if o.StudentID != studentID {
			continue
		}
		b := p.batches[o.BatchID]
		out = append(out, models.StatementLine{ObligationID: o.ID, BatchID: b.ID, Month: b.Month, Year: b.Year, FeeComponents: b.FeeComponents, Total: o.Total, Paid: o.Paid})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	return out, nil
}

func (p paymentStore) FindEntryByKey(ctx context.Context, key string) (*models.PaymentEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (p paymentStore) ApplyPayment(ctx context.Context, expectedPaid int64, entry *models.PaymentEntry) (*models.PaymentObligation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.staleWrites > 0 {
		p.staleWrites--
		return nil, repository.ErrStaleObligation
	}
	o, ok := p.obligations[entry.ObligationID]
	if !ok || o.Paid != expectedPaid || o.Paid+entry.Amount > o.Total {
		return nil, repository.ErrStaleObligation
	}
	if entry.IdempotencyKey != nil {
		if _, dup := p.entries[*entry.IdempotencyKey]; dup {
			return nil, repository.ErrDuplicateEntry
		}
		p.entries[*entry.IdempotencyKey] = *entry
	}
	o.Paid += entry.Amount
	p.obligations[o.ID] = o
	return &o, nil
}

// studentStore adapts memoryStore to the student reader contract.
type studentStore struct {
	*memoryStore
}

func (s studentStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.students[id]; ok {
		return &st, nil
	}
	return nil, sql.ErrNoRows
}

type recordingInvalidator struct {
	mu       sync.Mutex
	patterns []string
}

func (r *recordingInvalidator) Invalidate(pattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patterns)
}

// memoryCache implements CacheRepository with JSON payloads, like Redis.
type memoryCache struct {
	mu     sync.Mutex
	values map[string][]byte
	sets   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = raw
	c.sets++
	return nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	deleted := 0
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			delete(c.values, k)
			deleted++
		}
	}
	return deleted, nil
}

func (c *memoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}
