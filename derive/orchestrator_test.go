package derive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront"
	"storefront/access"
	"storefront/backoff"
	"storefront/catalog"
	"storefront/facade"
	"storefront/internal/testutil"
	"storefront/memstore"
	"storefront/placeholder"
	"storefront/slug"
)

func newFacade(t *testing.T) (*facade.Facade, *memstore.Store) {
	t.Helper()
	cat := catalog.Default()
	store := memstore.NewStore()
	clock := testutil.NewFakeClock(time.Unix(1700000000, 0))
	selector := access.NewSelector(
		store.View("orm", memstore.WithValidator(cat.ValidateSchema)),
		store.View("sql"),
		access.WithController(backoff.NewController(backoff.WithClock(clock))),
	)
	ids := testutil.NewSequenceIDs("id")
	f := facade.New(selector, cat, slug.NewAllocator(), placeholder.New(cat), facade.WithIDGenerator(ids.Next))
	return f, store
}

func paymentRequests(t *testing.T, f *facade.Facade) []storefront.Entity {
	t.Helper()
	res, err := f.List(context.Background(), storefront.KindPaymentRequest, storefront.Filter{})
	require.NoError(t, err)
	require.True(t, res.Authoritative())
	return res.Entities
}

func TestCompileCatalogRule(t *testing.T) {
	rules := FromCatalog(catalog.Default())
	require.Len(t, rules, 1)
	rule := rules[0]

	order := storefront.Entity{ID: "o-1", Kind: storefront.KindOrder,
		Fields: storefront.Fields{"paymentMethod": "rupay", "totalPrice": 4500.0}}
	assert.True(t, rule.Matches(order))
	assert.Equal(t, storefront.Fields{
		"orderId":       "o-1",
		"amount":        4500.0,
		"paymentMethod": "rupay",
		"status":        "pending",
	}, rule.Build(order))

	order.Fields["paymentMethod"] = "cod"
	assert.False(t, rule.Matches(order))
}

func TestUPIOrderDerivesOnePaymentRequest(t *testing.T) {
	ctx := context.Background()
	f, store := newFacade(t)
	orch := New(f, FromCatalog(f.Catalog()))
	f.Subscribe(orch.Handle)

	res, err := f.Create(ctx, storefront.KindOrder, storefront.Fields{
		"paymentMethod": "upi", "totalPrice": 4500, "items": []any{"p-1"},
	})
	require.NoError(t, err)

	prs := paymentRequests(t, f)
	require.Len(t, prs, 1)
	assert.Equal(t, 4500.0, prs[0].Fields["amount"])
	assert.Equal(t, res.Entity.ID, prs[0].Fields["orderId"])
	assert.Equal(t, "pending", prs[0].Fields["status"])

	// A redelivered creation event adds nothing.
	require.NoError(t, orch.OnCreated(ctx, *res.Entity))
	assert.Len(t, paymentRequests(t, f), 1)
	assert.Equal(t, 1, store.Count(storefront.KindPaymentRequest))
}

func TestNonMatchingEntitiesDeriveNothing(t *testing.T) {
	ctx := context.Background()
	f, store := newFacade(t)
	orch := New(f, FromCatalog(f.Catalog()))
	f.Subscribe(orch.Handle)

	_, err := f.Create(ctx, storefront.KindOrder, storefront.Fields{"paymentMethod": "cod", "totalPrice": 900})
	require.NoError(t, err)
	_, err = f.Create(ctx, storefront.KindProduct, storefront.Fields{
		"name": "Oak Chair", "price": 4500, "category": "cat-1", "stock": 3,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, store.Count(storefront.KindPaymentRequest))
}

func TestConcurrentRedeliveryDerivesOnce(t *testing.T) {
	ctx := context.Background()
	f, store := newFacade(t)
	orch := New(f, FromCatalog(f.Catalog()))

	order := storefront.Entity{ID: "o-7", Kind: storefront.KindOrder,
		Fields: storefront.Fields{"paymentMethod": "upi", "totalPrice": 120.0}}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = orch.OnCreated(ctx, order)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, store.Count(storefront.KindPaymentRequest))
}

func TestPlaceholdersAreIgnored(t *testing.T) {
	persist := &fakePersistence{}
	orch := New(persist, FromCatalog(catalog.Default()))

	err := orch.OnCreated(context.Background(), storefront.Entity{
		ID: "o-1", Kind: storefront.KindOrder, Placeholder: true,
		Fields: storefront.Fields{"paymentMethod": "upi", "totalPrice": 1.0},
	})
	require.NoError(t, err)
	assert.Zero(t, persist.creates)
}

// fakePersistence answers lookups with a scripted entity or error and
// Create with a scripted error.
type fakePersistence struct {
	mu        sync.Mutex
	found     *storefront.Entity
	lookupErr error
	lookups   []storefront.Fields
	createErr error
	creates   int
}

func (p *fakePersistence) FetchByUniqueKey(ctx context.Context, kind storefront.Kind, fields storefront.Fields) (storefront.AccessResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups = append(p.lookups, fields)
	if p.lookupErr != nil {
		return storefront.AccessResult{}, p.lookupErr
	}
	if p.found == nil {
		return storefront.AccessResult{}, storefront.NewFailure(storefront.FailureNotFound, storefront.NewRecordNotFoundError(kind, "?"), nil)
	}
	if p.found.Placeholder {
		return placeholder.EntityResult(*p.found, nil), nil
	}
	return storefront.AccessResult{Entity: p.found, Source: storefront.SourcePrimary}, nil
}

func (p *fakePersistence) Create(ctx context.Context, kind storefront.Kind, fields storefront.Fields) (storefront.AccessResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if p.createErr != nil {
		return storefront.AccessResult{}, p.createErr
	}
	ent := storefront.Entity{ID: "pr-1", Kind: kind, Fields: fields}
	return storefront.AccessResult{Entity: &ent, Source: storefront.SourcePrimary}, nil
}

var upiOrder = storefront.Entity{ID: "o-1", Kind: storefront.KindOrder,
	Fields: storefront.Fields{"paymentMethod": "upi", "totalPrice": 10.0}}

func TestExistingDependentFoundByUniqueKey(t *testing.T) {
	persist := &fakePersistence{found: &storefront.Entity{ID: "pr-9", Kind: storefront.KindPaymentRequest}}
	orch := New(persist, FromCatalog(catalog.Default()))

	require.NoError(t, orch.OnCreated(context.Background(), upiOrder))
	assert.Zero(t, persist.creates)
	require.Len(t, persist.lookups, 1)
	assert.Equal(t, "o-1", persist.lookups[0]["orderId"])
}

func TestMissingDependentIsCreated(t *testing.T) {
	persist := &fakePersistence{}
	orch := New(persist, FromCatalog(catalog.Default()))

	require.NoError(t, orch.OnCreated(context.Background(), upiOrder))
	assert.Equal(t, 1, persist.creates)
}

func TestFailedLookupStillAttemptsCreate(t *testing.T) {
	dup := &storefront.DuplicateError{Kind: storefront.KindPaymentRequest, Field: "unique_key", Value: "o-1"}
	persist := &fakePersistence{
		lookupErr: storefront.Exhausted(errors.New("i/o timeout"), nil),
		createErr: storefront.NewFailure(storefront.FailureConflict, dup, nil),
	}
	orch := New(persist, FromCatalog(catalog.Default()))

	require.NoError(t, orch.OnCreated(context.Background(), upiOrder))
	assert.Equal(t, 1, persist.creates)

	persist.createErr = storefront.Exhausted(errors.New("i/o timeout"), nil)
	err := orch.OnCreated(context.Background(), upiOrder)
	require.Error(t, err)
	assert.True(t, storefront.IsFailureKind(err, storefront.FailureExhausted))
}

func TestPlaceholderLookupIsNotAnAnswer(t *testing.T) {
	persist := &fakePersistence{found: &storefront.Entity{ID: "placeholder-1", Kind: storefront.KindPaymentRequest, Placeholder: true}}
	orch := New(persist, FromCatalog(catalog.Default()))

	require.NoError(t, orch.OnCreated(context.Background(), upiOrder))
	assert.Equal(t, 1, persist.creates)
}
