package protojson

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestRoundTrip(t *testing.T) {
	c := New[wrapperspb.StringValue]()

	in := &wrapperspb.StringValue{Value: "hello"}
	data, err := c.Serialize(in)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("expected JSON payload to contain the value, got %s", data)
	}

	out := &wrapperspb.StringValue{}
	if err := c.Deserialize(data, out); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if out.Value != "hello" {
		t.Errorf("got %q, want %q", out.Value, "hello")
	}
}

func TestName(t *testing.T) {
	c := New[wrapperspb.StringValue]()
	if c.Name() != "json" {
		t.Errorf("got %q, want json", c.Name())
	}
}
