package command

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradewatch/internal/backendtest"
	"github.com/betbot/tradewatch/internal/domain"
)

type recorder struct {
	mu       sync.Mutex
	logs     []string
	refreshs int
}

func (r *recorder) AppendLog(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, msg)
	return nil
}

func (r *recorder) RefreshNow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshs++
}

func validDraft() domain.TradeDraft {
	return domain.TradeDraft{
		UserID:    1,
		Symbol:    "BTCUSDT",
		BuyPrice:  "100",
		SellPrice: "110",
		StopLoss:  "95",
		Quantity:  "0.5",
	}
}

func newDispatcher(t *testing.T, backend *backendtest.Server, timeout time.Duration) (*Dispatcher, *recorder) {
	t.Helper()
	rec := &recorder{}
	return NewDispatcher(NewHTTPPoster(backend.URL(), timeout), rec, rec, timeout), rec
}

func TestSubmit_Success(t *testing.T) {
	backend := backendtest.New(t)
	d, rec := newDispatcher(t, backend, time.Second)

	receipt, err := d.Submit(context.Background(), validDraft())
	require.NoError(t, err)
	require.NotNil(t, receipt.Trade)
	assert.Equal(t, domain.TradeStatusPending, receipt.Trade.Status)
	assert.Greater(t, receipt.TradeID(), int64(0))

	created := backend.Created()
	require.Len(t, created, 1)
	assert.Equal(t, 0.5, created[0].Quantity)
	assert.Equal(t, "BTCUSDT", created[0].Symbol)

	require.Len(t, rec.logs, 1)
	assert.Contains(t, rec.logs[0], "Trade created")
	assert.Equal(t, 1, rec.refreshs)
}

func TestSubmit_MissingQuantityMakesNoRequest(t *testing.T) {
	backend := backendtest.New(t)
	d, rec := newDispatcher(t, backend, time.Second)

	draft := validDraft()
	draft.Quantity = ""
	_, err := d.Submit(context.Background(), draft)

	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "quantity", ve.Field)
	assert.Equal(t, 0, backend.Hits(PathCreate))
	assert.Empty(t, rec.logs)
	assert.Equal(t, 0, rec.refreshs)
}

func TestSubmit_BackendRejection(t *testing.T) {
	backend := backendtest.New(t)
	d, rec := newDispatcher(t, backend, time.Second)

	draft := validDraft()
	draft.StopLoss = "120"
	_, err := d.Submit(context.Background(), draft)

	var se *domain.SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, "Stop loss must be less than buy price", se.Detail)
	assert.Equal(t, "submit trade: http 400: Stop loss must be less than buy price", se.Error())
	assert.Empty(t, rec.logs, "failed submission must not touch the log")
	assert.Equal(t, 0, rec.refreshs)
	assert.Empty(t, backend.Created())
}

func TestSubmit_ServerError(t *testing.T) {
	backend := backendtest.New(t)
	backend.Fail(PathCreate, http.StatusServiceUnavailable, "maintenance")
	d, _ := newDispatcher(t, backend, time.Second)

	_, err := d.Submit(context.Background(), validDraft())
	var se *domain.SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, 1, backend.Hits(PathCreate), "submissions are never retried")
}

func TestSubmit_TimeoutAbandonsRequest(t *testing.T) {
	backend := backendtest.New(t)
	backend.SetLatency(PathCreate, 3*time.Second)
	d, rec := newDispatcher(t, backend, 100*time.Millisecond)

	start := time.Now()
	_, err := d.Submit(context.Background(), validDraft())
	assert.Less(t, time.Since(start), 2*time.Second)

	var se *domain.SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 0, se.StatusCode)
	assert.Empty(t, rec.logs)
}

func TestSubmit_CallerCancellation(t *testing.T) {
	backend := backendtest.New(t)
	backend.SetLatency(PathCreate, 3*time.Second)
	d, _ := newDispatcher(t, backend, 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := d.Submit(ctx, validDraft())
	var se *domain.SubmissionError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, context.Canceled)
}

type stubPoster struct{ body []byte }

func (s stubPoster) Post(context.Context, string, any) ([]byte, error) { return s.body, nil }

func TestSubmit_UnparseableSuccessBody(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(stubPoster{body: []byte("ok")}, rec, nil, 0)

	receipt, err := d.Submit(context.Background(), validDraft())
	require.NoError(t, err)
	assert.Nil(t, receipt.Trade)
	assert.Equal(t, int64(0), receipt.TradeID())
	assert.Equal(t, []string{"Trade created"}, rec.logs)
}
