package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritable_GetSet(t *testing.T) {
	w := New(10)
	assert.Equal(t, 10, w.Get())
	w.Set(20)
	assert.Equal(t, 20, w.Get())
	w.Update(func(v int) int { return v + 1 })
	assert.Equal(t, 21, w.Get())
}

func TestWritable_Subscribe(t *testing.T) {
	w := New("a")

	var got []string
	unsub := w.Subscribe(func(v string) { got = append(got, v) })
	assert.Equal(t, []string{"a"}, got, "called immediately with current value")

	w.Set("b")
	w.Update(func(v string) string { return v + "c" })
	assert.Equal(t, []string{"a", "b", "bc"}, got)

	w.Set("bc") // same value still notifies
	assert.Equal(t, []string{"a", "b", "bc", "bc"}, got)

	unsub()
	unsub() // idempotent
	w.Set("d")
	assert.Equal(t, []string{"a", "b", "bc", "bc"}, got)
	assert.Equal(t, 0, w.Subscribers())
}

func TestWritable_SubscribeOrder(t *testing.T) {
	w := New(0)
	var calls []string
	w.Subscribe(func(v int) { calls = append(calls, "first") })
	w.Subscribe(func(v int) { calls = append(calls, "second") })
	calls = nil

	w.Set(1)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestWritable_SetFromSubscriber(t *testing.T) {
	w := New(0)

	var seenA, seenB []int
	w.Subscribe(func(v int) {
		seenA = append(seenA, v)
		if v == 1 {
			w.Set(2) // queued, delivered after this round
		}
	})
	w.Subscribe(func(v int) { seenB = append(seenB, v) })

	w.Set(1)
	assert.Equal(t, []int{0, 1, 2}, seenA)
	assert.Equal(t, []int{0, 1, 2}, seenB, "second subscriber sees 1 before 2")
	assert.Equal(t, 2, w.Get())
}

func TestWritable_UnsubscribeInsideCallback(t *testing.T) {
	w := New(0)
	count := 0
	var unsub Unsubscriber
	unsub = w.Subscribe(func(v int) {
		count++
		if v == 1 && unsub != nil {
			unsub()
		}
	})
	w.Set(1)
	w.Set(2)
	assert.Equal(t, 2, count)
}

func TestWritable_Concurrent(t *testing.T) {
	w := New(0)
	var mu sync.Mutex
	notified := 0
	w.Subscribe(func(int) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Update(func(v int) int { return v + 1 })
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, w.Get())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return notified == 51
	}, time.Second, 10*time.Millisecond)
}
