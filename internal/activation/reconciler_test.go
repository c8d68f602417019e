package activation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/better-analytics/internal/lock"
	"example.com/better-analytics/internal/logging"
	"example.com/better-analytics/internal/settings"
)

type fakeCreator struct {
	mu       sync.Mutex
	calls    []string
	result   CreateResult
	err      error
	inFlight int32
	maxSeen  int32
	delay    time.Duration
}

func (f *fakeCreator) CreatePixel(_ context.Context, tenant, settingsJSON string) (CreateResult, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxSeen, m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, tenant+" "+settingsJSON)
	f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeCreator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestReconciler(t *testing.T, creator PixelCreator) *Reconciler {
	t.Helper()
	classifier, err := NewClassifier()
	require.NoError(t, err)
	return NewReconciler(creator, classifier, lock.NewLocal(), logging.Discard())
}

func TestReconcileSkipsBlankMeasurementID(t *testing.T) {
	creator := &fakeCreator{}
	r := newTestReconciler(t, creator)

	for _, id := range []string{"", " ", "\t\n", "   \t"} {
		out := r.Reconcile(context.Background(), "shop", settings.Record{MeasurementID: id})
		assert.Equal(t, KindSkipped, out.Kind, "id %q", id)
		assert.True(t, out.Succeeded())
		assert.NoError(t, out.Err())
	}
	assert.Zero(t, creator.callCount())
}

func TestReconcileCreated(t *testing.T) {
	creator := &fakeCreator{result: CreateResult{WebPixel: &WebPixel{ID: "gid://shopify/WebPixel/1"}}}
	r := newTestReconciler(t, creator)

	out := r.Reconcile(context.Background(), "shop", settings.Record{MeasurementID: " G-ABC123 "})
	assert.Equal(t, KindCreated, out.Kind)
	assert.Equal(t, "gid://shopify/WebPixel/1", out.PixelID)
	assert.True(t, out.Active())
	require.Equal(t, 1, creator.callCount())
	assert.Equal(t, `shop {"ga4AccountId":"G-ABC123"}`, creator.calls[0])
}

func TestReconcileAlreadyExistsIsSuccess(t *testing.T) {
	for _, msg := range []string{"Web pixel already exists", "ALREADY EXISTS for app", "pixel Already Exists."} {
		creator := &fakeCreator{result: CreateResult{UserErrors: []UserError{
			{Field: []string{"settings"}, Message: "Settings are invalid"},
			{Field: []string{"webPixel"}, Message: msg},
		}}}
		out := newTestReconciler(t, creator).Reconcile(context.Background(), "shop", settings.Record{MeasurementID: "G-1"})
		assert.Equal(t, KindAlreadyActive, out.Kind, "message %q", msg)
		assert.True(t, out.Succeeded())
		assert.NoError(t, out.Err())
	}
}

func TestReconcileFailedCarriesFirstError(t *testing.T) {
	creator := &fakeCreator{result: CreateResult{UserErrors: []UserError{
		{Field: []string{"webPixel", "settings"}, Message: "Settings are invalid"},
		{Field: []string{"other"}, Message: "second"},
	}}}
	out := newTestReconciler(t, creator).Reconcile(context.Background(), "shop", settings.Record{MeasurementID: "G-1"})
	assert.Equal(t, KindFailed, out.Kind)
	assert.Equal(t, "webPixel.settings", out.Field)
	assert.Equal(t, "Settings are invalid", out.Message)
	assert.ErrorIs(t, out.Err(), ErrActivationFailed)
}

func TestReconcileTransportError(t *testing.T) {
	creator := &fakeCreator{err: errors.New("dial tcp: connection refused")}
	out := newTestReconciler(t, creator).Reconcile(context.Background(), "shop", settings.Record{MeasurementID: "G-1"})
	assert.Equal(t, KindTransportError, out.Kind)
	assert.Equal(t, "dial tcp: connection refused", out.Message)
	assert.ErrorIs(t, out.Err(), ErrActivationTransport)
	assert.False(t, out.Active())
}

func TestReconcileSerialisesPerTenant(t *testing.T) {
	creator := &fakeCreator{delay: 5 * time.Millisecond, result: CreateResult{WebPixel: &WebPixel{ID: "1"}}}
	r := newTestReconciler(t, creator)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Reconcile(context.Background(), "same-shop", settings.Record{MeasurementID: "G-1"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, creator.callCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&creator.maxSeen))
}

func TestReconcileLockTimeoutIsTransportError(t *testing.T) {
	locker := lock.NewLocal()
	unlock, err := locker.Lock(context.Background(), "activation:shop")
	require.NoError(t, err)
	defer unlock()

	classifier, _ := NewClassifier()
	creator := &fakeCreator{}
	r := NewReconciler(creator, classifier, locker, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := r.Reconcile(ctx, "shop", settings.Record{MeasurementID: "G-1"})
	assert.Equal(t, KindTransportError, out.Kind)
	assert.Contains(t, out.Message, "acquire tenant lock")
	assert.Zero(t, creator.callCount())
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindFailed, Field: "settings", Message: "bad"}
	assert.Equal(t, "failed: settings: bad", err.Error())
	err = &Error{Kind: KindTransportError, Message: "timeout"}
	assert.Equal(t, "transport-error: timeout", err.Error())
}
