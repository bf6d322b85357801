package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListOrderAndRemoval(t *testing.T) {
	var l List[func() string]
	removeA := l.Add(func() string { return "a" })
	l.Add(func() string { return "b" })
	removeC := l.Add(func() string { return "c" })

	names := func() []string {
		var out []string
		for _, fn := range l.Snapshot() {
			out = append(out, fn())
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c"}, names())

	removeA()
	removeA()
	removeC()
	assert.Equal(t, []string{"b"}, names())
	assert.Equal(t, 1, l.Len())
}

func TestRemoveWhileFiring(t *testing.T) {
	var l List[func()]
	calls := 0
	var removeSecond func()
	l.Add(func() {
		calls++
		removeSecond()
	})
	removeSecond = l.Add(func() { calls++ })

	for _, fn := range l.Snapshot() {
		fn()
	}
	assert.Equal(t, 2, calls, "snapshot taken before removal still fires")

	for _, fn := range l.Snapshot() {
		fn()
	}
	assert.Equal(t, 3, calls)
}
