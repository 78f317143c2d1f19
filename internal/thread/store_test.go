package thread

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/casedesk/internal/types"
)

func TestStoreDispatchNotifiesListeners(t *testing.T) {
	store := NewStore()
	var got []string
	unsubscribe := store.Subscribe(func(ev Event, s State) {
		got = append(got, ev.Name())
	})

	require.NoError(t, store.Dispatch(CaseLoaded{Case: types.Case{ID: "1"}}))
	require.NoError(t, store.Dispatch(SendRequested{Comment: provisional("hi", t0)}))
	unsubscribe()
	require.NoError(t, store.Dispatch(StatusUpdateConfirmed{Target: types.StatusResolved}))

	assert.Equal(t, []string{"case_loaded", "send_requested"}, got)
}

func TestStoreRejectedEventLeavesState(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Dispatch(CaseLoaded{Case: types.Case{ID: "1"}}))

	err := store.Dispatch(SendRequested{Comment: types.Comment{ID: "server-id"}})
	assert.ErrorIs(t, err, ErrNotProvisional)
	assert.Empty(t, store.Comments())
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Dispatch(CaseLoaded{Case: types.Case{ID: "1", Comments: []types.Comment{{ID: "a", Text: "x"}}}}))

	comments := store.Comments()
	comments[0].Text = "mutated"
	assert.Equal(t, "x", store.Comments()[0].Text)

	c := store.Case()
	c.Status = types.StatusResolved
	assert.Empty(t, store.Case().Status)
}

func TestStoreConcurrentSends(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Dispatch(CaseLoaded{Case: types.Case{ID: "1"}}))

	const n = 50
	ids := make([]types.CommentID, n)
	for i := range ids {
		ids[i] = types.NewTempCommentID(t0)
		require.NoError(t, store.Dispatch(SendRequested{Comment: types.Comment{ID: ids[i]}}))
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id types.CommentID) {
			defer wg.Done()
			if i%2 == 0 {
				_ = store.Dispatch(SendFailed{TempID: id})
			} else {
				_ = store.Dispatch(SendSucceeded{TempID: id})
			}
		}(i, id)
	}
	wg.Wait()

	assert.Len(t, store.Comments(), n/2)
	assert.Equal(t, 0, store.InFlight())
	for _, c := range store.Comments() {
		idx := -1
		for i, id := range ids {
			if id == c.ID {
				idx = i
			}
		}
		assert.Equal(t, 1, idx%2, "only succeeded sends should remain")
	}
}

func TestStoreDeliversSnapshotsInOrder(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Dispatch(CaseLoaded{Case: types.Case{ID: "1"}}))

	const n = 40
	ids := make([]types.CommentID, n)
	for i := range ids {
		ids[i] = types.NewTempCommentID(t0)
		require.NoError(t, store.Dispatch(SendRequested{Comment: types.Comment{ID: ids[i]}}))
	}

	var mu sync.Mutex
	var inFlight []int
	store.Subscribe(func(ev Event, s State) {
		runtime.Gosched()
		mu.Lock()
		defer mu.Unlock()
		inFlight = append(inFlight, len(s.InFlight))
	})

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id types.CommentID) {
			defer wg.Done()
			_ = store.Dispatch(SendFailed{TempID: id})
		}(id)
	}
	wg.Wait()

	require.Len(t, inFlight, n)
	for i, got := range inFlight {
		assert.Equal(t, n-1-i, got, "delivery %d arrived out of order", i)
	}
}

func TestStoreListenerMayReadState(t *testing.T) {
	store := NewStore()
	var seen []int
	store.Subscribe(func(ev Event, s State) {
		seen = append(seen, len(store.Comments()))
	})

	require.NoError(t, store.Dispatch(CaseLoaded{Case: types.Case{ID: "1", Comments: []types.Comment{{ID: "a"}}}}))
	assert.Equal(t, []int{1}, seen)
}
