package transport

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

func TestPending_ResolveOnce(t *testing.T) {
	t.Parallel()

	p := NewPending()
	ch := p.Add("a")
	require.Equal(t, 1, p.Len())

	assert.True(t, p.Resolve("a", Result{Payload: json.RawMessage(`1`)}))
	assert.False(t, p.Resolve("a", Result{Payload: json.RawMessage(`2`)}), "second resolution is dropped")

	res := <-ch
	assert.JSONEq(t, `1`, string(res.Payload))
	assert.Zero(t, p.Len())
}

func TestPending_CancelledIsNotResolved(t *testing.T) {
	t.Parallel()

	p := NewPending()
	p.Add("late")
	p.Cancel("late")
	assert.False(t, p.Resolve("late", Result{}))
}

func TestPending_FailAll(t *testing.T) {
	t.Parallel()

	p := NewPending()
	a, b := p.Add("a"), p.Add("b")
	p.FailAll(msgerr.ResponseError{Code: msgerr.CodeNotConnected})

	for _, ch := range []<-chan Result{a, b} {
		res := <-ch
		require.NotNil(t, res.Error)
		assert.Equal(t, msgerr.CodeNotConnected, res.Error.Code)
	}
	assert.Zero(t, p.Len())
}

func TestPending_ConcurrentResolve(t *testing.T) {
	t.Parallel()

	p := NewPending()
	ch := p.Add("x")

	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- p.Resolve("x", Result{})
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for won := range wins {
		if won {
			count++
		}
	}
	assert.Equal(t, 1, count)
	<-ch
}
