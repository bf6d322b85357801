package msgctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/contractflow/internal/runtime/access"
	"github.com/drblury/contractflow/internal/runtime/metadata"
)

func TestNewFillsMissingFields(t *testing.T) {
	t.Parallel()

	mc := New(MessageContext{Source: "client-1"})
	assert.NotEmpty(t, mc.ID)
	assert.False(t, mc.Timestamp.IsZero())
	assert.Len(t, mc.TraceID, 32)
	assert.Len(t, mc.SpanID, 16)
	assert.Equal(t, "client-1", mc.Source)

	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	kept := New(MessageContext{ID: "m-1", Timestamp: fixed, TraceID: "t", SpanID: "s"})
	assert.Equal(t, "m-1", kept.ID)
	assert.Equal(t, fixed, kept.Timestamp)
	assert.Equal(t, "t", kept.TraceID)
	assert.Equal(t, "s", kept.SpanID)

	untraced := New(MessageContext{}, WithoutTracing())
	assert.Empty(t, untraced.TraceID)
	assert.Empty(t, untraced.SpanID)
}

func TestUniqueIDs(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		mc := New(MessageContext{})
		require.False(t, seen[mc.ID])
		seen[mc.ID] = true
	}
}

func TestChildContext(t *testing.T) {
	t.Parallel()

	parent := New(MessageContext{Source: "svc"})
	child := parent.Child()
	assert.NotEqual(t, parent.ID, child.ID)
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentSpanID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
	assert.Equal(t, "svc", child.Source)
}

func TestNewTraced(t *testing.T) {
	t.Parallel()

	base := New(MessageContext{})
	traced := NewTraced(base, "getUser")
	assert.Equal(t, base.TraceID, traced.TraceID)
	assert.Equal(t, base.SpanID, traced.ParentSpanID)
	assert.NotEqual(t, base.SpanID, traced.SpanID)
	assert.Equal(t, "getUser", traced.Metadata.Get(MetadataOperation))

	fresh := NewTraced(MessageContext{}, "")
	assert.NotEmpty(t, fresh.TraceID)
	assert.Empty(t, fresh.ParentSpanID)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	actor := access.NewActor("u1", "user", "viewer")
	base := New(MessageContext{Metadata: metadata.New("k", "v")}).WithAuth("tok", &actor)

	clone := base.Clone()
	clone.Metadata["k"] = "changed"
	clone.Auth.Token = "other"
	clone.Auth.Actor.Roles[0] = "admin"

	assert.Equal(t, "v", base.Metadata.Get("k"))
	assert.Equal(t, "tok", base.Token())
	assert.Equal(t, "viewer", base.Actor().Roles[0])
}

func TestSpanContextRoundTrip(t *testing.T) {
	t.Parallel()

	mc := New(MessageContext{})
	sc := mc.SpanContext()
	require.True(t, sc.IsValid())
	assert.Equal(t, mc.TraceID, sc.TraceID().String())

	other := New(MessageContext{})
	moved := other.WithSpanContext(sc)
	assert.Equal(t, mc.TraceID, moved.TraceID)
	assert.Equal(t, other.SpanID, moved.ParentSpanID)

	assert.False(t, MessageContext{TraceID: "zz"}.SpanContext().IsValid())
}

func TestContextCarriage(t *testing.T) {
	t.Parallel()

	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	mc := New(MessageContext{Source: "a"})
	got, ok := FromContext(WithContext(context.Background(), mc))
	require.True(t, ok)
	assert.Equal(t, mc.ID, got.ID)
}
