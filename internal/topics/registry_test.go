package topics

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct{ name string }

func TestRegistry_SubscribeAndLookup(t *testing.T) {
	r := NewRegistry[*fakeSub]()
	a, b := &fakeSub{"a"}, &fakeSub{"b"}

	ha := r.Subscribe("job:1", a)
	hb := r.Subscribe("job:1", b)
	r.Subscribe("dashboard", a)

	assert.NotEqual(t, Handle(0), ha)
	assert.NotEqual(t, ha, hb)
	assert.Equal(t, []*fakeSub{a, b}, r.SubscribersOf("job:1"))
	assert.Equal(t, []*fakeSub{a}, r.SubscribersOf("dashboard"))
	assert.Empty(t, r.SubscribersOf("job:2"))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"dashboard", "job:1"}, r.Topics())
}

func TestRegistry_Unsubscribe(t *testing.T) {
	r := NewRegistry[*fakeSub]()
	a := &fakeSub{"a"}

	h := r.Subscribe("job:1", a)
	r.Subscribe("dashboard", a)

	r.Unsubscribe(h)
	assert.Equal(t, 0, r.Count("job:1"))
	assert.Equal(t, 1, r.Count("dashboard"))
	assert.NotContains(t, r.Topics(), "job:1")

	t.Run("unknown handle is a no-op", func(t *testing.T) {
		r.Unsubscribe(h)
		r.Unsubscribe(Handle(9999))
		assert.Equal(t, 1, r.Len())
	})
}

func TestRegistry_IndependentSubscriptions(t *testing.T) {
	r := NewRegistry[*fakeSub]()
	a := &fakeSub{"a"}

	first := r.Subscribe("job:1", a)
	r.Subscribe("job:1", a)

	// The same subscriber twice on a topic is two subscriptions.
	assert.Len(t, r.SubscribersOf("job:1"), 2)

	r.Unsubscribe(first)
	assert.Len(t, r.SubscribersOf("job:1"), 1)
}

func TestRegistry_RemoveAll(t *testing.T) {
	r := NewRegistry[*fakeSub]()
	a, b := &fakeSub{"a"}, &fakeSub{"b"}

	r.Subscribe("job:1", a)
	r.Subscribe("dashboard", a)
	r.Subscribe("job:1", b)

	assert.Equal(t, 2, r.RemoveAll(a))
	assert.Equal(t, []*fakeSub{b}, r.SubscribersOf("job:1"))
	assert.Empty(t, r.SubscribersOf("dashboard"))
	assert.Equal(t, 0, r.RemoveAll(a))
}

func TestRegistry_SnapshotIsDetached(t *testing.T) {
	r := NewRegistry[*fakeSub]()
	a := &fakeSub{"a"}
	r.Subscribe("job:1", a)

	snapshot := r.SubscribersOf("job:1")
	r.RemoveAll(a)

	require.Len(t, snapshot, 1)
	assert.Same(t, a, snapshot[0])
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry[*fakeSub]()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			sub := &fakeSub{fmt.Sprintf("s%d", i)}
			h := r.Subscribe("dashboard", sub)
			r.Subscribe(fmt.Sprintf("job:%d", i%3), sub)
			r.Unsubscribe(h)
			r.RemoveAll(sub)
		}(i)
		go func() {
			defer wg.Done()
			for _, s := range r.SubscribersOf("dashboard") {
				_ = s.name
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
