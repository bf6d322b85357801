package transport

import (
	"encoding/json"
	"sync"

	"github.com/drblury/contractflow/internal/runtime/msgctx"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

// Result is the outcome delivered to a pending request.
type Result struct {
	Payload json.RawMessage
	Error   *msgerr.ResponseError
	Context msgctx.MessageContext
}

// Pending tracks in-flight requests by correlation id. Each entry is
// resolved at most once; results for unknown ids are dropped.
type Pending struct {
	mu      sync.Mutex
	waiters map[string]chan Result
}

// NewPending returns an empty table.
func NewPending() *Pending {
	return &Pending{waiters: make(map[string]chan Result)}
}

// Add registers id and returns the channel its result arrives on.
func (p *Pending) Add(id string) <-chan Result {
	ch := make(chan Result, 1)
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
	return ch
}

// Resolve delivers res to the waiter for id. It reports false when id is
// not pending, e.g. because the request already timed out.
func (p *Pending) Resolve(id string, res Result) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	delete(p.waiters, id)
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}

// Cancel forgets id without resolving it.
func (p *Pending) Cancel(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// FailAll resolves every waiter with re.
func (p *Pending) FailAll(re msgerr.ResponseError) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan Result)
	p.mu.Unlock()
	for _, ch := range waiters {
		errCopy := re
		ch <- Result{Error: &errCopy}
	}
}

// Len returns the number of in-flight requests.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
