package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDataTypes(t *testing.T) {
	cases := []struct {
		data EventData
		want EventType
	}{
		{&PortfolioCreatedData{}, PortfolioCreated},
		{&TransactionsAppendedData{}, TransactionsAppended},
		{&RecomputeCompletedData{}, RecomputeCompleted},
		{&RecomputeFailedData{}, RecomputeFailed},
		{&PricesUpdatedData{}, PricesUpdated},
		{&RatesUpdatedData{}, RatesUpdated},
		{&BackupCompletedData{}, BackupCompleted},
		{&ErrorEventData{}, ErrorOccurred},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.data.EventType())
	}
	assert.Len(t, AllTypes, len(cases))
}

func TestManager_EmitTypedRoundTrip(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	manager := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(RecomputeCompleted, func(e *Event) { got = e })

	manager.EmitTyped("recompute", &RecomputeCompletedData{
		PortfolioID:      "p1",
		Fingerprint:      "abc",
		TransactionCount: 12,
		LotCount:         3,
	})

	require.NotNil(t, got)
	assert.Equal(t, RecomputeCompleted, got.Type)
	assert.Equal(t, "recompute", got.Module)

	typed, ok := got.GetTypedData().(*RecomputeCompletedData)
	require.True(t, ok)
	assert.Equal(t, "p1", typed.PortfolioID)
	assert.Equal(t, 12, typed.TransactionCount)
	assert.Equal(t, 3, typed.LotCount)
}

func TestManager_EmitError(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	manager := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	manager.EmitError("scheduler", errors.New("boom"), map[string]interface{}{"job": "fx_sync"})

	require.NotNil(t, got)
	typed, ok := got.GetTypedData().(*ErrorEventData)
	require.True(t, ok)
	assert.Equal(t, "boom", typed.Error)
	assert.Equal(t, "fx_sync", typed.Context["job"])
}

func TestGetTypedData_Unknown(t *testing.T) {
	e := &Event{Type: "SOMETHING_ELSE", Data: map[string]interface{}{"x": 1}}
	assert.Nil(t, e.GetTypedData())

	e = &Event{Type: PricesUpdated}
	assert.Nil(t, e.GetTypedData())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	calls := 0
	id := bus.Subscribe(PricesUpdated, func(*Event) { calls++ })
	bus.Emit(PricesUpdated, "test", nil)
	assert.Equal(t, 1, calls)

	bus.Unsubscribe(id)
	bus.Emit(PricesUpdated, "test", nil)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.SubscriberCount(PricesUpdated))
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var seen []EventType
	ids := bus.SubscribeAll(func(e *Event) { seen = append(seen, e.Type) })
	assert.Len(t, ids, len(AllTypes))

	bus.Emit(RatesUpdated, "test", nil)
	bus.Emit(BackupCompleted, "test", nil)
	assert.Equal(t, []EventType{RatesUpdated, BackupCompleted}, seen)

	bus.Unsubscribe(ids...)
	bus.Emit(RatesUpdated, "test", nil)
	assert.Len(t, seen, 2)
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	delivered := false
	bus.Subscribe(ErrorOccurred, func(*Event) { panic("bad handler") })
	bus.Subscribe(ErrorOccurred, func(*Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Emit(ErrorOccurred, "test", nil) })
	assert.True(t, delivered)
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(TransactionsAppended, func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(TransactionsAppended, "test", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
}
