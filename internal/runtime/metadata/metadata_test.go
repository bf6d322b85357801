package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil {
		t.Fatal("expected non-nil map")
	}
	if len(cloned) != 0 {
		t.Fatal("expected empty map")
	}
}

func TestWithAndWithAll(t *testing.T) {
	base := New("tenant", "acme")
	withRegion := base.With("region", "eu")
	merged := withRegion.WithAll(Metadata{"tenant": "globex", "tier": "gold"})

	if base.Get("region") != "" {
		t.Fatal("With must not mutate the receiver")
	}
	if merged.Get("tenant") != "globex" || merged.Get("tier") != "gold" || merged.Get("region") != "eu" {
		t.Fatalf("unexpected merged metadata %#v", merged)
	}
}

func TestNewIgnoresTrailingKey(t *testing.T) {
	md := New("a", "1", "dangling")
	if len(md) != 1 || md["a"] != "1" {
		t.Fatalf("unexpected metadata %#v", md)
	}
}

func TestKeysSorted(t *testing.T) {
	md := Metadata{"b": "2", "c": "3", "a": "1"}
	keys := md.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected key order %v", keys)
	}
}

func TestWatermillConversion(t *testing.T) {
	wm := ToWatermill(Metadata{"trace_id": "abc"})
	if wm.Get("trace_id") != "abc" {
		t.Fatalf("expected trace_id header, got %#v", wm)
	}

	back := FromWatermill(message.Metadata{"span_id": "def"})
	if back.Get("span_id") != "def" {
		t.Fatalf("expected span_id, got %#v", back)
	}

	if len(FromWatermill(nil)) != 0 || len(ToWatermill(nil)) != 0 {
		t.Fatal("expected empty conversions for nil input")
	}
}
