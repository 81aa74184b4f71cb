package grpctest

import (
	"context"
	"testing"
	"time"

	"github.com/coreflux/grpcrt/calls"
	"github.com/coreflux/grpcrt/codec/protobuf"
	"github.com/coreflux/grpcrt/status"
	"github.com/coreflux/grpcrt/stream"
	"github.com/coreflux/grpcrt/transport"
)

// These mirror the six worked scenarios: a unary round trip, a blown
// deadline, a bidi echo, an oversize send, a peer-initiated cancellation,
// and a client that backs off while a server refuses every connection.

func TestScenarioUnarySuccess(t *testing.T) {
	client, server := newPair(t, calls.Unary)
	handshake(t, client, server)

	codec := protobuf.New[strValue]()
	Pipe[strValue, strValue](client, server, codec, codec, Options{})

	if err := client.Send(&strValue{Value: "World"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = client.CloseSend()

	req, err := server.Recv()
	if err != nil {
		t.Fatalf("server Recv: %v", err)
	}
	if err := server.Send(&strValue{Value: "Hello, " + req.Value}); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	if err := server.Finish(status.New(status.OK, "")); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	resp, err := client.Recv()
	if err != nil {
		t.Fatalf("client Recv: %v", err)
	}
	if resp.Value != "Hello, World" {
		t.Errorf("got %q, want %q", resp.Value, "Hello, World")
	}
	st, ok := client.Machine().FinalStatus()
	if !ok || st.Code() != status.OK {
		t.Errorf("expected trailers to carry grpc-status 0 (ok), got %v ok=%v", st, ok)
	}
}

func TestScenarioDeadlineFires(t *testing.T) {
	method := calls.MethodDescriptor{FullName: "/hello.Greeter/SayHello", Kind: calls.Unary}
	clientCall := calls.NewCall(context.Background(), method, stream.Client, calls.CallOptions{
		Deadline: time.Now().Add(10 * time.Millisecond),
	})
	serverCall := calls.NewCall(context.Background(), method, stream.Server, calls.CallOptions{})
	client := calls.NewClientCall[strValue, strValue](clientCall)
	server := calls.NewServerCall[strValue, strValue](serverCall)
	handshake(t, client, server)

	codec := protobuf.New[strValue]()
	Pipe[strValue, strValue](client, server, codec, codec, Options{})

	if err := client.Send(&strValue{Value: "World"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = client.CloseSend()
	if _, err := server.Recv(); err != nil {
		t.Fatalf("server Recv: %v", err)
	}

	// Server sleeps far past the client's deadline before replying.
	time.Sleep(100 * time.Millisecond)

	st, ok := client.Machine().FinalStatus()
	if !ok || st.Code() != status.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded on the client, got %v ok=%v", st, ok)
	}

	// The server's now-late write observes a reset stream and fails.
	if err := server.Send(&strValue{Value: "too late"}); err == nil {
		t.Error("expected the server's in-flight write to fail once the client gave up")
	}
}

func TestScenarioBidiPingPong(t *testing.T) {
	client, server := newPair(t, calls.BidiStreaming)
	handshake(t, client, server)

	codec := protobuf.New[strValue]()
	Pipe[strValue, strValue](client, server, codec, codec, Options{})

	go func() {
		for i := 0; i < 3; i++ {
			req, err := server.Recv()
			if err != nil {
				return
			}
			if err := server.Send(req); err != nil {
				return
			}
		}
		_ = server.Finish(status.New(status.OK, ""))
	}()

	for _, word := range []string{"a", "b", "c"} {
		if err := client.Send(&strValue{Value: word}); err != nil {
			t.Fatalf("Send(%q): %v", word, err)
		}
	}
	_ = client.CloseSend()

	for _, want := range []string{"a", "b", "c"} {
		got, err := client.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if got.Value != want {
			t.Errorf("got %q, want %q", got.Value, want)
		}
	}
	if st, ok := client.Machine().FinalStatus(); !ok || st.Code() != status.OK {
		t.Errorf("expected ok after the echoed sequence, got %v ok=%v", st, ok)
	}
}

func TestScenarioOversizeMessageRejectedLocally(t *testing.T) {
	client, server := newPair(t, calls.Unary)
	handshake(t, client, server)

	codec := protobuf.New[strValue]()
	Pipe[strValue, strValue](client, server, codec, codec, Options{MaxRequestSize: 100})

	oversized := make([]byte, 101)
	for i := range oversized {
		oversized[i] = 'x'
	}
	if err := client.Send(&strValue{Value: string(oversized)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = client.CloseSend()

	time.Sleep(10 * time.Millisecond) // let the relay goroutine discover the oversize frame

	st, ok := client.Machine().FinalStatus()
	if !ok {
		t.Fatal("expected the call to have terminated")
	}
	if st.Code() != status.ResourceExhausted {
		t.Errorf("got %s, want ResourceExhausted", st.Code())
	}
	if _, err := server.Recv(); err == nil {
		t.Error("no message should have reached the server")
	}
}

func TestScenarioPeerCancelDiscardsPending(t *testing.T) {
	client, server := newPair(t, calls.ServerStreaming)
	handshake(t, client, server)

	codec := protobuf.New[strValue]()
	Pipe[strValue, strValue](client, server, codec, codec, Options{})

	if err := client.Send(&strValue{Value: "go"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = client.CloseSend()
	if _, err := server.Recv(); err != nil {
		t.Fatalf("server Recv: %v", err)
	}

	// The handler cancels instead of producing a response: equivalent to
	// the peer resetting the stream with CANCEL.
	server.Machine().Cancel()

	_, err := client.Recv()
	if err == nil {
		t.Fatal("expected an error once the peer cancelled")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != status.Canceled {
		t.Errorf("got %v, want Canceled", err)
	}
}

func TestScenarioReconnectBackoff(t *testing.T) {
	cfg := transport.BackoffConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2.0, Jitter: 0}
	b := transport.NewBackoff(cfg)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		got := b.Next()
		if got != w {
			t.Errorf("attempt %d: got %s, want %s", i+1, got, w)
		}
	}

	// A successful connect resets the counter, so the next failure starts
	// the sequence over from Initial.
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("after Reset, got %s, want %s", got, time.Second)
	}
}
