package resolution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/features"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeStore struct {
	mu sync.Mutex

	entities map[string]*models.PersistedEntity

	createErr    error
	createErrs   []error // consumed in order when set
	getErr       error
	updateErr    error
	findExact    []models.PersistedEntity
	findExactErr error

	createCalls int
	updateCalls int
	lastUpdate  map[string]any
	scopes      []string // tenant/cell pair per store call, in call order
}

func (f *fakeStore) recordScope(tenantID, cellID string) {
	f.scopes = append(f.scopes, tenantID+"/"+cellID)
}

func newFakeStore(entities ...*models.PersistedEntity) *fakeStore {
	store := &fakeStore{entities: make(map[string]*models.PersistedEntity)}
	for _, e := range entities {
		store.entities[e.ID] = e
	}
	return store
}

func (f *fakeStore) FindExact(_ context.Context, _ string, _ models.EntityType, tenantID, cellID string, _ int) ([]models.PersistedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordScope(tenantID, cellID)
	return f.findExact, f.findExactErr
}

func (f *fakeStore) Get(_ context.Context, id, tenantID, cellID string) (*models.PersistedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordScope(tenantID, cellID)
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.entities[id], nil
}

func (f *fakeStore) Create(_ context.Context, name string, entityType models.EntityType, attributes map[string]any, tenantID, cellID string) (*models.PersistedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordScope(tenantID, cellID)
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if f.createErr != nil {
		return nil, f.createErr
	}
	entity := &models.PersistedEntity{
		ID:         fmt.Sprintf("created-%d", f.createCalls),
		Name:       name,
		EntityType: entityType,
		Attributes: attributes,
		TenantID:   tenantID,
		CellID:     cellID,
	}
	f.entities[entity.ID] = entity
	return entity, nil
}

func (f *fakeStore) UpdateAttributes(_ context.Context, id string, attributes map[string]any, tenantID, cellID string) (*models.PersistedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordScope(tenantID, cellID)
	f.updateCalls++
	f.lastUpdate = attributes
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	entity, ok := f.entities[id]
	if !ok {
		return nil, models.ErrEntityNotFound
	}
	updated := *entity
	updated.Attributes = attributes
	f.entities[id] = &updated
	return &updated, nil
}

type fakeMatcher struct {
	mu            sync.Mutex
	matches       []models.EntityMatch
	err           error
	lastMethod    models.MatchMethod
	lastCandidate *models.EntityCandidate
	lastTenant    string
	lastCell      string
	calls         int
}

func (f *fakeMatcher) FindMatches(_ context.Context, candidate *models.EntityCandidate, tenantID, cellID string, method models.MatchMethod) ([]models.EntityMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastMethod = method
	f.lastCandidate = candidate
	f.lastTenant = tenantID
	f.lastCell = cellID
	return f.matches, f.err
}

type fakeEncoder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeEmitter struct {
	mu      sync.Mutex
	created []string
	matched []string
	err     error
}

func (f *fakeEmitter) EntityCreated(_ context.Context, entity *models.PersistedEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, entity.ID)
	return f.err
}

func (f *fakeEmitter) EntityMatched(_ context.Context, entity *models.PersistedEntity, _ models.EntityMatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matched = append(f.matched, entity.ID)
	return f.err
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestService(store *fakeStore, matcher *fakeMatcher, encoder *fakeEncoder, emitter *fakeEmitter) *Service {
	var e EventEmitter
	if emitter != nil {
		e = emitter
	}
	return NewService(store, matcher, encoder, features.New(), e, testLogger(), DefaultConfig())
}

func observation(name string) *models.EntityObservation {
	return &models.EntityObservation{
		Name:       name,
		EntityType: models.EntityTypeOrganization,
	}
}

func manyMatches(n int, topConfidence float64) []models.EntityMatch {
	matches := make([]models.EntityMatch, 0, n)
	for i := 0; i < n; i++ {
		matches = append(matches, models.EntityMatch{
			MatchedEntityID: fmt.Sprintf("e%d", i+1),
			ConfidenceScore: topConfidence - float64(i)*0.01,
			Method:          models.MatchMethodFuzzy,
		})
	}
	return matches
}

func TestService_Resolve_MatchedMergesAndCapsAlternatives(t *testing.T) {
	store := newFakeStore(&models.PersistedEntity{
		ID:         "e1",
		Name:       "Acme Corp",
		EntityType: models.EntityTypeOrganization,
		Attributes: map[string]any{"email": "ops@acme.test"},
	})
	matcher := &fakeMatcher{matches: manyMatches(6, 0.95)}
	emitter := &fakeEmitter{}
	svc := newTestService(store, matcher, &fakeEncoder{}, emitter)

	obs := observation("Acme Corp")
	obs.Attributes = map[string]any{"phone": "555-0100"}

	outcome, err := svc.Resolve(context.Background(), obs, "tenant-1", "cell-1", Options{CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionMatched, outcome.Action)
	require.NotNil(t, outcome.Entity)
	assert.Equal(t, "e1", outcome.Entity.ID)
	assert.InDelta(t, 0.95, outcome.MatchConfidence, 0.0001)
	assert.Equal(t, models.MatchMethodFuzzy, outcome.MatchMethod)
	assert.Len(t, outcome.Alternatives, 4)
	assert.Equal(t, "e2", outcome.Alternatives[0].MatchedEntityID)

	// merge adopted the new attribute and kept the existing one
	assert.Equal(t, 1, store.updateCalls)
	assert.Equal(t, map[string]any{"email": "ops@acme.test", "phone": "555-0100"}, store.lastUpdate)

	assert.Equal(t, []string{"e1"}, emitter.matched)
	assert.Equal(t, 0, store.createCalls)
}

func TestService_Resolve_MatchedWithoutAttributeChanges(t *testing.T) {
	store := newFakeStore(&models.PersistedEntity{
		ID:         "e1",
		Name:       "Acme Corp",
		EntityType: models.EntityTypeOrganization,
		Attributes: map[string]any{"email": "ops@acme.test"},
	})
	matcher := &fakeMatcher{matches: []models.EntityMatch{
		{MatchedEntityID: "e1", ConfidenceScore: 1.0, Method: models.MatchMethodExact},
	}}
	svc := newTestService(store, matcher, &fakeEncoder{}, nil)

	obs := observation("Acme Corp")
	obs.Attributes = map[string]any{"email": "sales@acme.test"}

	outcome, err := svc.Resolve(context.Background(), obs, "tenant-1", "cell-1", Options{})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionMatched, outcome.Action)
	assert.Empty(t, outcome.Alternatives)
	// existing scalar won, so no write happened
	assert.Equal(t, 0, store.updateCalls)
	assert.Equal(t, "ops@acme.test", outcome.Entity.Attributes["email"])
}

func TestService_Resolve_CreatesBelowThreshold(t *testing.T) {
	store := newFakeStore()
	matcher := &fakeMatcher{matches: manyMatches(6, 0.80)}
	emitter := &fakeEmitter{}
	svc := newTestService(store, matcher, &fakeEncoder{}, emitter)

	outcome, err := svc.Resolve(context.Background(), observation("Acme Corp"), "tenant-1", "cell-1", Options{CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionCreated, outcome.Action)
	require.NotNil(t, outcome.Entity)
	assert.Equal(t, "Acme Corp", outcome.Entity.Name)
	assert.Equal(t, 1.0, outcome.MatchConfidence)
	assert.Len(t, outcome.Alternatives, 5)
	assert.Equal(t, 1, store.createCalls)
	assert.Equal(t, outcome.Entity.ID, emitter.created[0])
}

func TestService_Resolve_NoMatchWhenCreateDisabled(t *testing.T) {
	store := newFakeStore()
	matcher := &fakeMatcher{matches: manyMatches(2, 0.80)}
	svc := newTestService(store, matcher, &fakeEncoder{}, nil)

	outcome, err := svc.Resolve(context.Background(), observation("Acme Corp"), "tenant-1", "cell-1", Options{CreateIfNotFound: false})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionNoMatch, outcome.Action)
	assert.Nil(t, outcome.Entity)
	assert.Len(t, outcome.Alternatives, 2)
	assert.Equal(t, 0, store.createCalls)
}

func TestService_Resolve_InvalidObservation(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeMatcher{}, &fakeEncoder{}, nil)

	tests := []struct {
		name string
		obs  *models.EntityObservation
	}{
		{"empty name", &models.EntityObservation{Name: "  ", EntityType: models.EntityTypePerson}},
		{"unknown type", &models.EntityObservation{Name: "Acme", EntityType: "starship"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Resolve(context.Background(), tt.obs, "tenant-1", "cell-1", Options{})
			assert.ErrorIs(t, err, models.ErrInvalidObservation)
		})
	}
}

func TestService_Resolve_InvalidMethod(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeMatcher{}, &fakeEncoder{}, nil)

	_, err := svc.Resolve(context.Background(), observation("Acme Corp"), "tenant-1", "cell-1", Options{Method: "phonetic"})

	assert.ErrorIs(t, err, models.ErrInvalidObservation)
}

func TestService_Resolve_DefaultsToHybridAndEmbedsUpFront(t *testing.T) {
	matcher := &fakeMatcher{}
	encoder := &fakeEncoder{}
	svc := newTestService(newFakeStore(), matcher, encoder, nil)

	_, err := svc.Resolve(context.Background(), observation("Acme Corp"), "tenant-1", "cell-1", Options{CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.MatchMethodHybrid, matcher.lastMethod)
	assert.Equal(t, 1, encoder.calls)
}

func TestService_Resolve_ExactMethodSkipsEmbedding(t *testing.T) {
	matcher := &fakeMatcher{}
	encoder := &fakeEncoder{}
	svc := newTestService(newFakeStore(), matcher, encoder, nil)

	_, err := svc.Resolve(context.Background(), observation("Acme Corp"), "tenant-1", "cell-1", Options{Method: models.MatchMethodExact, CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.MatchMethodExact, matcher.lastMethod)
	assert.Equal(t, 0, encoder.calls)
}

func TestService_Resolve_EmbeddingFailureIsNotFatal(t *testing.T) {
	matcher := &fakeMatcher{}
	encoder := &fakeEncoder{err: errors.New("provider rate limited")}
	svc := newTestService(newFakeStore(), matcher, encoder, nil)

	outcome, err := svc.Resolve(context.Background(), observation("Acme Corp"), "tenant-1", "cell-1", Options{CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionCreated, outcome.Action)
}

func TestService_Resolve_MatcherFailureYieldsErrorOutcome(t *testing.T) {
	matcher := &fakeMatcher{err: fmt.Errorf("%w: all match strategies failed", models.ErrDependencyUnavailable)}
	svc := newTestService(newFakeStore(), matcher, &fakeEncoder{}, nil)

	outcome, err := svc.Resolve(context.Background(), observation("Acme Corp"), "tenant-1", "cell-1", Options{CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionError, outcome.Action)
	assert.NotEmpty(t, outcome.Error)
}

func TestService_Resolve_CreateConflictAdoptsWinner(t *testing.T) {
	winner := &models.PersistedEntity{
		ID:         "winner",
		Name:       "Acme Corp",
		EntityType: models.EntityTypeOrganization,
		Attributes: map[string]any{},
	}
	store := newFakeStore(winner)
	store.createErrs = []error{models.ErrEntityConflict}
	store.findExact = []models.PersistedEntity{*winner}
	emitter := &fakeEmitter{}
	svc := newTestService(store, &fakeMatcher{}, &fakeEncoder{}, emitter)

	obs := observation("Acme Corp")
	obs.Attributes = map[string]any{"email": "ops@acme.test"}

	outcome, err := svc.Resolve(context.Background(), obs, "tenant-1", "cell-1", Options{CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionMatched, outcome.Action)
	assert.Equal(t, "winner", outcome.Entity.ID)
	assert.Equal(t, 1.0, outcome.MatchConfidence)
	assert.Equal(t, models.MatchMethodExact, outcome.MatchMethod)
	assert.Equal(t, 1, store.createCalls)
	// the conflicting observation's attributes still land on the winner
	assert.Equal(t, map[string]any{"email": "ops@acme.test"}, outcome.Entity.Attributes)
	assert.Equal(t, []string{"winner"}, emitter.matched)
}

func TestService_Resolve_CreateConflictWithoutWinner(t *testing.T) {
	store := newFakeStore()
	store.createErrs = []error{models.ErrEntityConflict}
	svc := newTestService(store, &fakeMatcher{}, &fakeEncoder{}, nil)

	outcome, err := svc.Resolve(context.Background(), observation("Acme Corp"), "tenant-1", "cell-1", Options{CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionError, outcome.Action)
}

func TestService_Resolve_EmitterFailureDoesNotAffectOutcome(t *testing.T) {
	store := newFakeStore()
	emitter := &fakeEmitter{err: errors.New("broker unreachable")}
	svc := newTestService(store, &fakeMatcher{}, &fakeEncoder{}, emitter)

	outcome, err := svc.Resolve(context.Background(), observation("Acme Corp"), "tenant-1", "cell-1", Options{CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionCreated, outcome.Action)
}

func TestService_ResolveBatch(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeMatcher{}, &fakeEncoder{}, nil)

	observations := []models.EntityObservation{
		{Name: "Acme Corp", EntityType: models.EntityTypeOrganization},
		{Name: "", EntityType: models.EntityTypeOrganization},
		{Name: "Globex", EntityType: models.EntityTypeOrganization},
	}

	outcomes := svc.ResolveBatch(context.Background(), observations, "tenant-1", "cell-1", Options{CreateIfNotFound: true})

	require.Len(t, outcomes, 3)
	assert.Equal(t, models.ResolutionActionCreated, outcomes[0].Action)
	assert.Equal(t, "Acme Corp", outcomes[0].Entity.Name)
	assert.Equal(t, models.ResolutionActionError, outcomes[1].Action)
	assert.Equal(t, models.ResolutionActionCreated, outcomes[2].Action)
	assert.Equal(t, "Globex", outcomes[2].Entity.Name)
}

func assertScoped(t *testing.T, store *fakeStore, tenantID, cellID string) {
	t.Helper()
	require.NotEmpty(t, store.scopes)
	for _, scope := range store.scopes {
		assert.Equal(t, tenantID+"/"+cellID, scope)
	}
}

func TestService_Resolve_MatchedScopesStoreCalls(t *testing.T) {
	store := newFakeStore(&models.PersistedEntity{
		ID:         "e1",
		Name:       "Acme Corp",
		EntityType: models.EntityTypeOrganization,
		TenantID:   "tenant-a",
		CellID:     "cell-7",
	})
	matcher := &fakeMatcher{matches: []models.EntityMatch{
		{MatchedEntityID: "e1", ConfidenceScore: 0.95, Method: models.MatchMethodFuzzy},
	}}
	svc := newTestService(store, matcher, &fakeEncoder{}, nil)

	obs := observation("ACME CORP")
	obs.Attributes = map[string]any{"phone": "555-0100"}

	outcome, err := svc.Resolve(context.Background(), obs, "tenant-a", "cell-7", Options{})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionMatched, outcome.Action)
	// every read and write carried the request's tenant and cell
	assertScoped(t, store, "tenant-a", "cell-7")
	assert.Equal(t, "tenant-a", matcher.lastTenant)
	assert.Equal(t, "cell-7", matcher.lastCell)
	require.NotNil(t, matcher.lastCandidate)
	assert.Equal(t, "acme corp", matcher.lastCandidate.NormalizedName)
}

func TestService_Resolve_CreateScopesStoreCalls(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeMatcher{}, &fakeEncoder{}, nil)

	outcome, err := svc.Resolve(context.Background(), observation("Acme Corp"), "tenant-a", "cell-7", Options{CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionCreated, outcome.Action)
	assert.Equal(t, "tenant-a", outcome.Entity.TenantID)
	assert.Equal(t, "cell-7", outcome.Entity.CellID)
	assertScoped(t, store, "tenant-a", "cell-7")
}

func TestService_Resolve_ConflictRecoveryScopesStoreCalls(t *testing.T) {
	winner := &models.PersistedEntity{
		ID:         "winner",
		Name:       "Acme Corp",
		EntityType: models.EntityTypeOrganization,
		TenantID:   "tenant-a",
		CellID:     "cell-7",
	}
	store := newFakeStore(winner)
	store.createErrs = []error{models.ErrEntityConflict}
	store.findExact = []models.PersistedEntity{*winner}
	svc := newTestService(store, &fakeMatcher{}, &fakeEncoder{}, nil)

	obs := observation("Acme Corp")
	obs.Attributes = map[string]any{"email": "ops@acme.test"}

	outcome, err := svc.Resolve(context.Background(), obs, "tenant-a", "cell-7", Options{CreateIfNotFound: true})

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionActionMatched, outcome.Action)
	assert.Equal(t, "winner", outcome.Entity.ID)
	// create, recovery lookup, and merge all stayed inside the scope
	assertScoped(t, store, "tenant-a", "cell-7")
}
