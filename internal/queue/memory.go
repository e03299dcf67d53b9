package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Manager used by component and pipeline
// tests. It implements the
// exact same conditional-update claim semantics as Postgres so tests
// against it exercise the real state machine.
type Memory struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Item
	seq   int64
}

// NewMemory constructs an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{items: make(map[uuid.UUID]*Item)}
}

func (m *Memory) Enqueue(in NewItem) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range m.items {
		if it.URLHash == in.URLHash && !it.Status.IsTerminal() {
			return Item{}, ErrDuplicateURL
		}
	}

	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	now := time.Now().UTC()
	m.seq++
	item := &Item{
		ID:          uuid.New(),
		Type:        in.Type,
		Status:      StatusPending,
		URL:         in.URL,
		URLHash:     in.URLHash,
		CompanyName: in.CompanyName,
		Source:      in.Source,
		SubmittedBy: in.SubmittedBy,
		ScrapedData: in.ScrapedData,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.items[item.ID] = item
	return *item, nil
}

func (m *Memory) Claim(batchSize int, lease time.Duration) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	// Stale-lease recovery happens on every claim (spec §4.E), and is
	// an implicit release: retry_count is not incremented because the
	// prior worker crashed rather than observed a failure.
	for _, it := range m.items {
		if it.Status == StatusProcessing && it.LeaseExpiresAt != nil && it.LeaseExpiresAt.Before(now) {
			it.Status = StatusPending
			it.LeaseExpiresAt = nil
			it.UpdatedAt = now
		}
	}

	pending := make([]*Item, 0)
	for _, it := range m.items {
		if it.Status == StatusPending {
			pending = append(pending, it)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID.String() < pending[j].ID.String()
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	if batchSize > len(pending) {
		batchSize = len(pending)
	}

	claimed := make([]Item, 0, batchSize)
	expiry := now.Add(lease)
	for i := 0; i < batchSize; i++ {
		it := pending[i]
		it.Status = StatusProcessing
		it.LeaseExpiresAt = &expiry
		processedAt := now
		it.ProcessedAt = &processedAt
		it.UpdatedAt = now
		claimed = append(claimed, *it)
	}
	return claimed, nil
}

func (m *Memory) Complete(id uuid.UUID, status Status, resultMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.Status.IsTerminal() {
		return nil
	}

	now := time.Now().UTC()
	it.Status = status
	it.ResultMessage = resultMessage
	it.CompletedAt = &now
	it.UpdatedAt = now
	it.LeaseExpiresAt = nil
	return nil
}

func (m *Memory) Release(id uuid.UUID, kind ErrorKind, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.Status.IsTerminal() {
		return nil
	}

	now := time.Now().UTC()
	it.ErrorDetails = &ErrorDetails{Kind: kind, Message: message, Timestamp: now}
	it.RetryCount++
	it.UpdatedAt = now
	it.LeaseExpiresAt = nil

	if it.RetryCount >= it.MaxRetries {
		it.Status = StatusFailed
		it.CompletedAt = &now
		return nil
	}

	it.Status = StatusPending
	return nil
}

func (m *Memory) Stats() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, it := range m.items {
		switch it.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusSuccess:
			s.Success++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s, nil
}

func (m *Memory) Cleanup(olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var removed int64
	for id, it := range m.items {
		if it.Status.IsTerminal() && it.CompletedAt != nil && it.CompletedAt.Before(cutoff) {
			delete(m.items, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Get(id uuid.UUID) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return *it, nil
}

func (m *Memory) SetCompanyID(id uuid.UUID, companyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.CompanyID = &companyID
	it.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SetScrapedData(id uuid.UUID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.ScrapedData = data
	it.UpdatedAt = time.Now().UTC()
	return nil
}

// FindByURLHash is a test helper, beyond the Manager interface, that
// returns the non-terminal item with the given url_hash, if any.
func (m *Memory) FindByURLHash(hash string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range m.items {
		if it.URLHash == hash && !it.Status.IsTerminal() {
			return *it, true
		}
	}
	return Item{}, false
}
