package jsoncodec

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "contractflow"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out testPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}

	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"id\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Encode(buf, testPayload{ID: 7, Name: "stream"}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var out testPayload
	if err := Decode(buf, &out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.ID != 7 || out.Name != "stream" {
		t.Fatalf("unexpected decoded payload %#v", out)
	}
}

func TestPayload(t *testing.T) {
	t.Run("raw message passes through", func(t *testing.T) {
		raw := json.RawMessage(`{"a":1}`)
		got, err := Payload(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != `{"a":1}` {
			t.Fatalf("unexpected payload %s", got)
		}
	})

	t.Run("empty raw message becomes null", func(t *testing.T) {
		got, err := Payload(json.RawMessage(nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != "null" {
			t.Fatalf("expected null, got %s", got)
		}
	})

	t.Run("struct is marshalled", func(t *testing.T) {
		got, err := Payload(testPayload{ID: 1, Name: "x"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		decoded, err := DecodePayload[testPayload](got)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if decoded.ID != 1 || decoded.Name != "x" {
			t.Fatalf("unexpected decoded payload %#v", decoded)
		}
	})
}

func TestDecodePayloadEmpty(t *testing.T) {
	out, err := DecodePayload[testPayload](nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != (testPayload{}) {
		t.Fatalf("expected zero value, got %#v", out)
	}
}
