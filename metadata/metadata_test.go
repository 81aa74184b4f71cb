package metadata

import (
	"reflect"
	"testing"
)

func TestAppendPreservesOrderAndCase(t *testing.T) {
	md := New()
	if err := md.Append("X-Request-Id", "abc"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := md.Append("x-request-id", "def"); err != nil {
		t.Fatalf("append: %v", err)
	}

	got := md.Get("X-REQUEST-ID")
	if len(got) != 2 {
		t.Fatalf("Get returned %d pairs, want 2", len(got))
	}
	if got[0].Key != "X-Request-Id" || got[1].Key != "x-request-id" {
		t.Errorf("original key case not preserved: %+v", got)
	}
	if got[0].Value != "abc" || got[1].Value != "def" {
		t.Errorf("order not preserved: %+v", got)
	}
}

func TestAppendRejectsReserved(t *testing.T) {
	for _, key := range []string{":method", "grpc-status", "content-type", "TE"} {
		md := New()
		if err := md.Append(key, "x"); err == nil {
			t.Errorf("Append(%q) should have been rejected", key)
		}
	}
}

func TestAppendRejectsNonASCII(t *testing.T) {
	md := New()
	if err := md.Append("x-name", "café"); err == nil {
		t.Errorf("expected non-ASCII value to be rejected")
	}
}

func TestBinaryKeys(t *testing.T) {
	md := New()
	payload := []byte{0x00, 0x01, 0xff}
	if err := md.AppendBinary("x-trace-bin", payload); err != nil {
		t.Fatalf("AppendBinary: %v", err)
	}
	if err := md.Append("x-trace-bin", "nope"); err == nil {
		t.Errorf("Append should reject a -bin key")
	}
	if err := md.AppendBinary("x-trace", payload); err == nil {
		t.Errorf("AppendBinary should reject a non -bin key")
	}

	got := md.Get("x-trace-bin")
	if len(got) != 1 || !reflect.DeepEqual(got[0].Bin, payload) {
		t.Errorf("binary round trip failed: %+v", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	md := New()
	_ = md.AppendBinary("x-bin", []byte{1, 2, 3})
	clone := md.Clone()
	clone.Pairs()[0].Bin[0] = 0xff

	if md.Pairs()[0].Bin[0] == 0xff {
		t.Errorf("Clone shared underlying binary storage")
	}
}

func TestIsBinary(t *testing.T) {
	if !IsBinary("x-Trace-BIN") {
		t.Errorf("expected case-insensitive -bin suffix detection")
	}
	if IsBinary("x-trace") {
		t.Errorf("non -bin key misdetected as binary")
	}
}
