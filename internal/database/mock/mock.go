// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/facepass/internal/database"
)

// MockIdentityStore is an in-memory implementation of database.IdentityWriter.
// Enrollment transactions stage their writes and apply them on Commit.
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities map[int64]*database.Identity
	samples    map[int64]*database.FaceSample
	nextID     int64

	// Error injection
	GetError          error
	ListError         error
	LoadError         error
	BeginError        error
	InsertError       error
	InsertSampleError error
	CommitError       error
	AddSampleError    error

	// FailAtSample makes the k-th InsertSample (1-based) of every transaction fail. Zero disables it.
	FailAtSample int

	// BeforeCommit, when set, runs inside Commit before the staged rows are applied.
	BeforeCommit func()
}

// NewMockIdentityStore creates a new empty store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		identities: make(map[int64]*database.Identity),
		samples:    make(map[int64]*database.FaceSample),
	}
}

func (m *MockIdentityStore) allocID() int64 {
	m.nextID++
	return m.nextID
}

func (m *MockIdentityStore) findByName(name string) *database.Identity {
	for _, identity := range m.identities {
		if identity.Name == name {
			return identity
		}
	}
	return nil
}

// GetIdentity retrieves an identity by id
func (m *MockIdentityStore) GetIdentity(_ context.Context, id int64) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if identity, ok := m.identities[id]; ok {
		cp := *identity
		return &cp, nil
	}
	return nil, nil
}

// GetIdentityByName retrieves an identity by name
func (m *MockIdentityStore) GetIdentityByName(_ context.Context, name string) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if identity := m.findByName(name); identity != nil {
		cp := *identity
		return &cp, nil
	}
	return nil, nil
}

func (m *MockIdentityStore) sortedIdentities() []*database.Identity {
	result := make([]*database.Identity, 0, len(m.identities))
	for _, identity := range m.identities {
		result = append(result, identity)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *MockIdentityStore) samplesOf(identityID int64) []database.FaceSample {
	var result []database.FaceSample
	for _, sample := range m.samples {
		if sample.IdentityID == identityID {
			result = append(result, *sample)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ListIdentities returns all identities with sample counts
func (m *MockIdentityStore) ListIdentities(_ context.Context) ([]database.IdentitySummary, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.IdentitySummary
	for _, identity := range m.sortedIdentities() {
		result = append(result, database.IdentitySummary{
			Identity:    *identity,
			SampleCount: len(m.samplesOf(identity.ID)),
		})
	}
	return result, nil
}

// ListSampleIDs returns sample ids of an identity
func (m *MockIdentityStore) ListSampleIDs(_ context.Context, identityID int64) ([]int64, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for _, sample := range m.samplesOf(identityID) {
		ids = append(ids, sample.ID)
	}
	return ids, nil
}

// GetSample retrieves a sample by id
func (m *MockIdentityStore) GetSample(_ context.Context, id int64) (*database.FaceSample, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sample, ok := m.samples[id]; ok {
		cp := *sample
		return &cp, nil
	}
	return nil, nil
}

// LoadAllSamples returns every identity with its samples
func (m *MockIdentityStore) LoadAllSamples(_ context.Context) ([]database.IdentitySamples, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.IdentitySamples
	for _, identity := range m.sortedIdentities() {
		result = append(result, database.IdentitySamples{
			Identity: *identity,
			Samples:  m.samplesOf(identity.ID),
		})
	}
	return result, nil
}

// AddSample appends a sample to a named identity
func (m *MockIdentityStore) AddSample(_ context.Context, name string, image []byte) (*database.FaceSample, error) {
	if m.AddSampleError != nil {
		return nil, m.AddSampleError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	identity := m.findByName(name)
	if identity == nil {
		return nil, database.ErrIdentityNotFound
	}
	sample := &database.FaceSample{ID: m.allocID(), IdentityID: identity.ID, Image: image, CreatedAt: time.Now()}
	m.samples[sample.ID] = sample
	cp := *sample
	return &cp, nil
}

// BeginEnroll opens a staged transaction
func (m *MockIdentityStore) BeginEnroll(_ context.Context, _ string) (database.EnrollTx, error) {
	if m.BeginError != nil {
		return nil, m.BeginError
	}
	return &mockTx{store: m}, nil
}

// Seed adds a committed identity with samples directly
func (m *MockIdentityStore) Seed(name string, images ...[]byte) database.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity := &database.Identity{ID: m.allocID(), Name: name, CreatedAt: time.Now()}
	m.identities[identity.ID] = identity
	for _, img := range images {
		sample := &database.FaceSample{ID: m.allocID(), IdentityID: identity.ID, Image: img, CreatedAt: time.Now()}
		m.samples[sample.ID] = sample
	}
	return *identity
}

// Counts returns the number of committed identities and samples
func (m *MockIdentityStore) Counts() (identities, samples int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), len(m.samples)
}

type mockTx struct {
	store      *MockIdentityStore
	identities []*database.Identity
	samples    []*database.FaceSample
	inserted   int
	done       bool
}

func (t *mockTx) GetIdentityByName(ctx context.Context, name string) (*database.Identity, error) {
	for _, identity := range t.identities {
		if identity.Name == name {
			cp := *identity
			return &cp, nil
		}
	}
	return t.store.GetIdentityByName(ctx, name)
}

func (t *mockTx) InsertIdentity(_ context.Context, name string) (*database.Identity, error) {
	if t.store.InsertError != nil {
		return nil, t.store.InsertError
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.store.findByName(name) != nil {
		return nil, database.ErrDuplicateIdentity
	}
	identity := &database.Identity{ID: t.store.allocID(), Name: name, CreatedAt: time.Now()}
	t.identities = append(t.identities, identity)
	cp := *identity
	return &cp, nil
}

func (t *mockTx) InsertSample(_ context.Context, identityID int64, image []byte) (*database.FaceSample, error) {
	t.inserted++
	if t.store.FailAtSample > 0 && t.inserted == t.store.FailAtSample {
		return nil, fmt.Errorf("insert sample %d: injected failure", t.inserted)
	}
	if t.store.InsertSampleError != nil {
		return nil, t.store.InsertSampleError
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	sample := &database.FaceSample{ID: t.store.allocID(), IdentityID: identityID, Image: image, CreatedAt: time.Now()}
	t.samples = append(t.samples, sample)
	cp := *sample
	return &cp, nil
}

func (t *mockTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	if t.store.CommitError != nil {
		return t.store.CommitError
	}
	if t.store.BeforeCommit != nil {
		t.store.BeforeCommit()
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	// Emulates the unique index for transactions that raced past the existence check.
	for _, identity := range t.identities {
		if t.store.findByName(identity.Name) != nil {
			return database.ErrDuplicateIdentity
		}
	}
	for _, identity := range t.identities {
		t.store.identities[identity.ID] = identity
	}
	for _, sample := range t.samples {
		t.store.samples[sample.ID] = sample
	}
	return nil
}

func (t *mockTx) Rollback() error {
	t.done = true
	return nil
}

var _ database.IdentityWriter = (*MockIdentityStore)(nil)
