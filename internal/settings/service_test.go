package settings

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/better-analytics/internal/logging"
	"example.com/better-analytics/internal/sqliteutil"
)

func newTestService(t *testing.T) (*Service, *Store) {
	t.Helper()
	db, err := sqliteutil.Open(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	require.NoError(t, store.Init(context.Background()))
	return NewService(store, logging.Discard()), store
}

func TestLoadReturnsDefaultsForNewTenants(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	for _, tenant := range []string{"alpha.myshopify.com", "beta.myshopify.com", "gamma.myshopify.com"} {
		rec, err := svc.Load(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, tenant, rec.Tenant)
		assert.Empty(t, rec.MeasurementID)
		assert.False(t, rec.Configured())
		assert.True(t, rec.TrackProductPrices)
		assert.True(t, rec.TrackDiscounts)
		assert.True(t, rec.TrackCustomerConsent)

		persisted, err := store.FindByTenant(ctx, tenant)
		require.NoError(t, err)
		require.NotNil(t, persisted, "defaults should be created lazily on first load")
	}
}

func TestSaveOverwritesAllFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Save(ctx, "shop.myshopify.com", Record{
		MeasurementID:        " G-ABC123 ",
		TrackProductPrices:   false,
		TrackDiscounts:       true,
		TrackCustomerConsent: false,
	})
	require.NoError(t, err)

	rec, err := svc.Load(ctx, "SHOP.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, "G-ABC123", rec.MeasurementID)
	assert.False(t, rec.TrackProductPrices)
	assert.True(t, rec.TrackDiscounts)
	assert.False(t, rec.TrackCustomerConsent)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestUpsertTwiceKeepsOneRecordWithSecondPayload(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	tenant := "race.myshopify.com"

	_, err := store.Upsert(ctx, Record{Tenant: tenant, MeasurementID: "G-FIRST", TrackDiscounts: true})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, Record{Tenant: tenant, MeasurementID: "G-SECOND", TrackProductPrices: true})
	require.NoError(t, err)

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM tenant_settings WHERE tenant = ?`, tenant).Scan(&count))
	assert.Equal(t, 1, count)

	rec, err := svc.Load(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "G-SECOND", rec.MeasurementID)
	assert.True(t, rec.TrackProductPrices)
	assert.False(t, rec.TrackDiscounts)
	assert.False(t, rec.TrackCustomerConsent)
}

// saveDuringFirstLookup lets a Save land between Load's lookup and its default insert.
type saveDuringFirstLookup struct {
	*Store
	svc  *Service
	once sync.Once
}

func (r *saveDuringFirstLookup) FindByTenant(ctx context.Context, tenant string) (*Record, error) {
	var missing bool
	r.once.Do(func() {
		missing = true
		_, err := r.svc.Save(ctx, tenant, Record{MeasurementID: "G-SAVED", TrackDiscounts: true})
		if err != nil {
			panic(err)
		}
	})
	if missing {
		return nil, nil
	}
	return r.Store.FindByTenant(ctx, tenant)
}

func TestLoadNeverOverwritesConcurrentSave(t *testing.T) {
	_, store := newTestService(t)
	repo := &saveDuringFirstLookup{Store: store}
	repo.svc = NewService(store, logging.Discard())
	svc := NewService(repo, logging.Discard())
	ctx := context.Background()

	rec, err := svc.Load(ctx, "racy.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, "G-SAVED", rec.MeasurementID)
	assert.False(t, rec.TrackProductPrices)

	rec, err = svc.Load(ctx, "racy.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, "G-SAVED", rec.MeasurementID)
}

func TestCreateIfAbsentKeepsExistingRow(t *testing.T) {
	_, store := newTestService(t)
	ctx := context.Background()

	created, err := store.CreateIfAbsent(ctx, Defaults("keep.myshopify.com"))
	require.NoError(t, err)
	assert.True(t, created)

	_, err = store.Upsert(ctx, Record{Tenant: "keep.myshopify.com", MeasurementID: "G-KEEP"})
	require.NoError(t, err)
	created, err = store.CreateIfAbsent(ctx, Defaults("keep.myshopify.com"))
	require.NoError(t, err)
	assert.False(t, created)

	rec, err := store.FindByTenant(ctx, "keep.myshopify.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "G-KEEP", rec.MeasurementID)
}

func TestBlankTenantRejected(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Load(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidTenant)
	_, err = svc.Save(context.Background(), "", Record{})
	assert.ErrorIs(t, err, ErrInvalidTenant)
}

func TestStoreUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewService(NewStore(db), logging.Discard())
	down := errors.New("connection refused")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tenant, measurement_id`)).
		WithArgs("down.myshopify.com").
		WillReturnError(down)
	_, err = svc.Load(context.Background(), "down.myshopify.com")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, down)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tenant_settings`)).
		WillReturnError(down)
	_, err = svc.Save(context.Background(), "down.myshopify.com", Record{MeasurementID: "G-1"})
	require.ErrorIs(t, err, ErrStoreUnavailable)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadDefaultsInsertFailureIsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewService(NewStore(db), logging.Discard())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tenant, measurement_id`)).
		WillReturnRows(sqlmock.NewRows([]string{"tenant"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tenant_settings`)).
		WillReturnError(errors.New("disk I/O error"))

	_, err = svc.Load(context.Background(), "new.myshopify.com")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}
