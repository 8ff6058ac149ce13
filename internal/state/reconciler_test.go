package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/betbot/tradewatch/internal/domain"
)

type countingRefresher struct{ n atomic.Int32 }

func (c *countingRefresher) Trigger() { c.n.Add(1) }

func trade(id int64, status domain.TradeStatus) domain.Trade {
	return domain.Trade{
		ID:        id,
		UserID:    1,
		Symbol:    "BTCUSDT",
		BuyPrice:  decimal.NewFromInt(100),
		SellPrice: decimal.NewFromInt(110),
		StopLoss:  decimal.NewFromInt(95),
		Quantity:  decimal.NewFromInt(1),
		Status:    status,
	}
}

func ids(trades []domain.Trade) []int64 {
	out := make([]int64, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.ID)
	}
	return out
}

func TestApplyPush_PriceAndTradeUpdate(t *testing.T) {
	store := NewStore(10)
	ref := &countingRefresher{}
	r := NewReconciler(store, ref)

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.ApplyPush(domain.PushEvent{Kind: domain.EventPriceUpdate, Price: decimal.RequireFromString("101.5"), ReceivedAt: at}))
	require.NoError(t, r.ApplyPush(domain.PushEvent{Kind: domain.EventPriceUpdate, Price: decimal.RequireFromString("102"), ReceivedAt: at}))

	v := store.View()
	require.NotNil(t, v.Price)
	assert.Equal(t, "102", v.Price.Price.String(), "last arrival wins")
	assert.Empty(t, v.Logs)
	assert.Equal(t, int32(0), ref.n.Load())

	require.NoError(t, r.ApplyPush(domain.PushEvent{
		Kind: domain.EventTradeUpdate, Status: domain.TradeStatusBought, Price: decimal.RequireFromString("100.5"), ReceivedAt: at,
	}))
	v = store.View()
	require.Len(t, v.Logs, 1)
	assert.Equal(t, "Trade bought at 100.5", v.Logs[0].Message)
	assert.Equal(t, at, v.Logs[0].Time)
	assert.Empty(t, v.Open, "trade_update must not patch trades")
	assert.Equal(t, int32(1), ref.n.Load())

	select {
	case <-store.Updated():
	default:
		t.Fatal("expected change signal")
	}
}

func TestApplyPush_ReconnectedIsNoop(t *testing.T) {
	store := NewStore(10)
	r := NewReconciler(store, nil)
	require.NoError(t, r.ApplyPush(domain.PushEvent{Kind: domain.EventReconnected}))
	assert.Equal(t, uint64(0), store.Version())
	assert.Error(t, r.ApplyPush(domain.PushEvent{Kind: "bogus"}))
}

func TestNormalize(t *testing.T) {
	active := []domain.Trade{
		trade(1, domain.TradeStatusPending),
		trade(2, domain.TradeStatusPending),
		trade(3, domain.TradeStatusBought),
		trade(4, "cancelled"),
		trade(5, domain.TradeStatusSold), // 出现在错误的列表里
	}
	history := []domain.Trade{
		trade(1, domain.TradeStatusSold),
		trade(6, domain.TradeStatusStopped),
		trade(7, domain.TradeStatusBought),
	}
	active = append(active, trade(2, domain.TradeStatusBought))

	open, closed, dropped := Normalize(active, history)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []int64{2, 3, 7}, ids(open))
	assert.Equal(t, []int64{1, 5, 6}, ids(closed))
	assert.Equal(t, domain.TradeStatusBought, open[0].Status, "bought beats pending")
	assert.Equal(t, domain.TradeStatusSold, closed[0].Status, "closed beats open")
}

func TestApplySnapshot_StaleIsDiscarded(t *testing.T) {
	store := NewStore(10)
	r := NewReconciler(store, nil)

	older := r.BeginSnapshot()
	newer := r.BeginSnapshot()

	ok, err := r.ApplySnapshot(newer, []domain.Trade{trade(2, domain.TradeStatusBought)}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.ApplySnapshot(older, []domain.Trade{trade(1, domain.TradeStatusPending)}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	v := store.View()
	assert.Equal(t, []int64{2}, ids(v.Open))
	assert.Equal(t, newer, v.LastSnapshotSeq)
	assert.False(t, v.LastSyncAt.IsZero())

	// 同一序号不能被采纳两次
	ok, err = r.ApplySnapshot(newer, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordFetchError_LeavesTradesUntouched(t *testing.T) {
	store := NewStore(10)
	r := NewReconciler(store, nil)

	seq := r.BeginSnapshot()
	_, err := r.ApplySnapshot(seq,
		[]domain.Trade{trade(1, domain.TradeStatusPending), trade(2, domain.TradeStatusBought)},
		[]domain.Trade{trade(3, domain.TradeStatusSold)})
	require.NoError(t, err)
	before := store.View()

	failed := r.BeginSnapshot()
	fetchErr := &domain.FetchError{Endpoint: "/trade/history", StatusCode: 500, Err: errors.New("boom")}
	require.NoError(t, r.RecordFetchError(failed, fetchErr))

	after := store.View()
	assert.Equal(t, before.Open, after.Open)
	assert.Equal(t, before.Closed, after.Closed)
	assert.Equal(t, before.LastSnapshotSeq, after.LastSnapshotSeq)
	require.Len(t, after.Logs, 1)
	assert.Equal(t, "Sync failed: "+fetchErr.Error(), after.Logs[0].Message)
}

func TestClose_StopsAllMutation(t *testing.T) {
	store := NewStore(10)
	r := NewReconciler(store, &countingRefresher{})
	require.NoError(t, r.AppendLog("hello"))
	r.Close()
	assert.True(t, r.Closed())

	version := store.Version()
	seq := r.BeginSnapshot()

	assert.ErrorIs(t, r.ApplyPush(domain.PushEvent{Kind: domain.EventPriceUpdate, Price: decimal.NewFromInt(1)}), domain.ErrClosed)
	_, err := r.ApplySnapshot(seq, []domain.Trade{trade(1, domain.TradeStatusPending)}, nil)
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.ErrorIs(t, r.RecordFetchError(seq, errors.New("x")), domain.ErrClosed)
	assert.ErrorIs(t, r.AppendLog("late"), domain.ErrClosed)

	assert.Equal(t, version, store.Version())
	assert.Len(t, store.View().Logs, 1)
}

func TestLogCapacity(t *testing.T) {
	store := NewStore(3)
	r := NewReconciler(store, nil)
	for i := 1; i <= 5; i++ {
		require.NoError(t, r.AppendLog(fmt.Sprintf("entry %d", i)))
	}
	logs := store.View().Logs
	require.Len(t, logs, 3)
	assert.Equal(t, "entry 5", logs[0].Message)
	assert.Equal(t, "entry 3", logs[2].Message)
}

func TestView_IsACopy(t *testing.T) {
	store := NewStore(10)
	r := NewReconciler(store, nil)
	seq := r.BeginSnapshot()
	_, err := r.ApplySnapshot(seq, []domain.Trade{trade(1, domain.TradeStatusPending)}, nil)
	require.NoError(t, err)

	v := store.View()
	v.Open[0].Status = domain.TradeStatusSold
	assert.Equal(t, domain.TradeStatusPending, store.View().Open[0].Status)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	store := NewStore(50)
	r := NewReconciler(store, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v := store.View()
				seen := map[int64]bool{}
				for _, tr := range v.Open {
					seen[tr.ID] = true
				}
				for _, tr := range v.Closed {
					if seen[tr.ID] {
						t.Errorf("trade %d visible in both collections", tr.ID)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		seq := r.BeginSnapshot()
		status := domain.TradeStatusPending
		if i%2 == 0 {
			status = domain.TradeStatusSold
		}
		_, err := r.ApplySnapshot(seq, []domain.Trade{trade(int64(i%5), status)}, []domain.Trade{trade(int64(i%7), domain.TradeStatusStopped)})
		require.NoError(t, err)
		require.NoError(t, r.ApplyPush(domain.PushEvent{Kind: domain.EventPriceUpdate, Price: decimal.NewFromInt(int64(i))}))
	}
	close(stop)
	wg.Wait()
}

var statusGen = rapid.SampledFrom([]domain.TradeStatus{
	domain.TradeStatusPending,
	domain.TradeStatusBought,
	domain.TradeStatusSold,
	domain.TradeStatusStopped,
	"cancelled",
})

func tradesGen() *rapid.Generator[[]domain.Trade] {
	return rapid.SliceOfN(rapid.Custom(func(t *rapid.T) domain.Trade {
		return trade(rapid.Int64Range(1, 8).Draw(t, "id"), statusGen.Draw(t, "status"))
	}), 0, 12)
}

func TestProperty_CollectionsDisjointAndClassified(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := NewStore(10)
		r := NewReconciler(store, nil)

		rounds := rapid.IntRange(1, 6).Draw(t, "rounds")
		for i := 0; i < rounds; i++ {
			active := tradesGen().Draw(t, "active")
			history := tradesGen().Draw(t, "history")
			seq := r.BeginSnapshot()
			ok, err := r.ApplySnapshot(seq, active, history)
			if err != nil || !ok {
				t.Fatalf("latest snapshot not applied: ok=%v err=%v", ok, err)
			}

			v := store.View()
			seen := map[int64]string{}
			for _, tr := range v.Open {
				if !tr.Status.IsOpen() {
					t.Fatalf("open collection holds %s trade %d", tr.Status, tr.ID)
				}
				if _, dup := seen[tr.ID]; dup {
					t.Fatalf("trade %d duplicated in open", tr.ID)
				}
				seen[tr.ID] = "open"
			}
			for _, tr := range v.Closed {
				if !tr.Status.IsClosed() {
					t.Fatalf("closed collection holds %s trade %d", tr.Status, tr.ID)
				}
				if where, dup := seen[tr.ID]; dup {
					t.Fatalf("trade %d already in %s", tr.ID, where)
				}
				seen[tr.ID] = "closed"
			}
		}
	})
}

func TestProperty_StaleSnapshotNeverOverwrites(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := NewStore(10)
		r := NewReconciler(store, nil)

		var outstanding []uint64
		var lastApplied uint64
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(outstanding) == 0 || rapid.Bool().Draw(t, "begin") {
				outstanding = append(outstanding, r.BeginSnapshot())
				continue
			}
			idx := rapid.IntRange(0, len(outstanding)-1).Draw(t, "complete")
			seq := outstanding[idx]
			outstanding = append(outstanding[:idx], outstanding[idx+1:]...)

			// 用序号当作交易 id，便于确认视图来自哪次快照
			ok, err := r.ApplySnapshot(seq, []domain.Trade{trade(int64(seq), domain.TradeStatusPending)}, nil)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			latest := r.issued.Load()
			want := seq == latest && seq > lastApplied
			if ok != want {
				t.Fatalf("seq=%d latest=%d lastApplied=%d: applied=%v want %v", seq, latest, lastApplied, ok, want)
			}
			if ok {
				lastApplied = seq
			}

			v := store.View()
			if v.LastSnapshotSeq != lastApplied {
				t.Fatalf("view seq %d, want %d", v.LastSnapshotSeq, lastApplied)
			}
			if lastApplied > 0 && (len(v.Open) != 1 || v.Open[0].ID != int64(lastApplied)) {
				t.Fatalf("view content %v does not match snapshot %d", ids(v.Open), lastApplied)
			}
		}
	})
}
