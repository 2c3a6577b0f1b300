package concurrency_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/momentics/usock/internal/concurrency"
)

func TestFIFO_Order(t *testing.T) {
	f := concurrency.NewFIFO(nil)
	for _, p := range []string{"P1", "P2", "P3"} {
		f.Push([]byte(p))
	}
	require.Equal(t, 3, f.Len())
	for _, want := range []string{"P1", "P2", "P3"} {
		got, ok := f.Pop()
		require.True(t, ok)
		assert.Equal(t, want, string(got))
	}
	_, ok := f.Pop()
	assert.False(t, ok)
}

func TestFIFO_NotifyOnPush(t *testing.T) {
	calls := 0
	f := concurrency.NewFIFO(func() { calls++ })
	f.Push([]byte("a"))
	f.Push([]byte("b"))
	assert.Equal(t, 2, calls)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, f.Drain())
	assert.Zero(t, f.Len())
}

func TestFIFO_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	f := concurrency.NewFIFO(nil)
	const producers, perProducer = 4, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				f.Push([]byte(fmt.Sprintf("%d:%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	next := make([]int, producers)
	for _, item := range f.Drain() {
		var p, i int
		_, err := fmt.Sscanf(string(item), "%d:%d", &p, &i)
		require.NoError(t, err)
		require.Equal(t, next[p], i, "producer %d out of order", p)
		next[p]++
	}
	for p := range next {
		assert.Equal(t, perProducer, next[p])
	}
}

func TestFIFO_PropertyInsertionOrderIsDeliveryOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		items := rapid.SliceOf(rapid.SliceOfN(rapid.Byte(), 0, 64)).Draw(t, "items")
		f := concurrency.NewFIFO(nil)
		for _, it := range items {
			f.Push(it)
		}
		if f.Len() != len(items) {
			t.Fatalf("len %d, want %d", f.Len(), len(items))
		}
		for i, want := range items {
			got, ok := f.Pop()
			if !ok || string(got) != string(want) {
				t.Fatalf("item %d: got %q ok=%v, want %q", i, got, ok, want)
			}
		}
	})
}

func TestPair_OnlyOutboundNotifies(t *testing.T) {
	calls := 0
	p := concurrency.NewPair(func() { calls++ })
	p.Inbound.Push([]byte("in"))
	p.Outbound.Push([]byte("out"))
	assert.Equal(t, 1, calls)
}
