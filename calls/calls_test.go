package calls

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/coreflux/grpcrt/status"
	"github.com/coreflux/grpcrt/stream"
)

type request struct{ Value string }
type response struct{ Value string }

func TestUnaryCallRoundTrip(t *testing.T) {
	call := NewCall(context.Background(), MethodDescriptor{FullName: "/svc/Unary", Kind: Unary}, stream.Client, CallOptions{})
	client := NewClientCall[request, response](call)

	if err := client.machine.SendInitialMetadata(); err != nil {
		t.Fatalf("SendInitialMetadata: %v", err)
	}
	if err := client.Send(&request{Value: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := client.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}

	req, err := client.NextRequest(context.Background())
	if err != nil || req.Value != "hi" {
		t.Fatalf("NextRequest: %+v, %v", req, err)
	}

	if err := client.machine.RecvInitialMetadata(); err != nil {
		t.Fatalf("RecvInitialMetadata: %v", err)
	}
	if err := client.DeliverResponse(&response{Value: "ok"}); err != nil {
		t.Fatalf("DeliverResponse: %v", err)
	}
	if err := client.machine.RecvTrailers(status.New(status.OK, "")); err != nil {
		t.Fatalf("RecvTrailers: %v", err)
	}

	resp, err := client.Recv()
	if err != nil || resp.Value != "ok" {
		t.Fatalf("Recv: %+v, %v", resp, err)
	}

	if _, err := client.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after final message, got %v", err)
	}
}

func TestUnaryCallFailureStatus(t *testing.T) {
	call := NewCall(context.Background(), MethodDescriptor{FullName: "/svc/Unary", Kind: Unary}, stream.Client, CallOptions{})
	client := NewClientCall[request, response](call)

	_ = client.machine.SendInitialMetadata()
	_ = client.CloseSend()
	_ = client.machine.RecvInitialMetadata()

	want := status.New(status.NotFound, "nope")
	if err := client.machine.RecvTrailers(want); err != nil {
		t.Fatalf("RecvTrailers: %v", err)
	}

	_, err := client.Recv()
	got, ok := status.FromError(err)
	if !ok || got.Code() != status.NotFound {
		t.Fatalf("expected NotFound status, got %v", err)
	}
}

func TestDeadlineFiresCancellation(t *testing.T) {
	call := NewCall(context.Background(), MethodDescriptor{FullName: "/svc/Unary", Kind: Unary},
		stream.Client, CallOptions{Deadline: time.Now().Add(20 * time.Millisecond)})
	client := NewClientCall[request, response](call)
	_ = client.machine.SendInitialMetadata()

	<-call.Context().Done()
	time.Sleep(10 * time.Millisecond) // let watchDeadline's goroutine run

	st, ok := call.machine.FinalStatus()
	if !ok {
		t.Fatalf("expected a final status after deadline")
	}
	if st.Code() != status.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %s", st.Code())
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	call := NewCall(context.Background(), MethodDescriptor{FullName: "/svc/Unary", Kind: Unary}, stream.Client, CallOptions{})
	call.Cancel()
	call.Cancel()

	st, ok := call.machine.FinalStatus()
	if !ok || st.Code() != status.Canceled {
		t.Fatalf("expected Canceled status, got %v ok=%v", st, ok)
	}
}

func TestServerStreamHandlerProducesMultipleResponses(t *testing.T) {
	call := NewCall(context.Background(), MethodDescriptor{FullName: "/svc/ServerStream", Kind: ServerStreaming}, stream.Server, CallOptions{})
	server := NewServerCall[request, response](call)

	_ = server.machine.RecvInitialMetadata()
	_ = server.DeliverRequest(&request{Value: "go"})
	_ = server.machine.SendInitialMetadata()

	handler := func(ctx context.Context, req *request, out Sender[response]) error {
		for i := 0; i < 3; i++ {
			if err := out.Send(&response{Value: req.Value}); err != nil {
				return err
			}
		}
		return out.CloseSend()
	}

	if err := ServeServerStream(handler, server); err != nil {
		t.Fatalf("ServeServerStream: %v", err)
	}

	for i := 0; i < 3; i++ {
		resp, err := server.NextResponse(context.Background())
		if err != nil || resp.Value != "go" {
			t.Fatalf("NextResponse[%d]: %+v, %v", i, resp, err)
		}
	}
}

func TestRetrySkipsAfterInitialMetadataSent(t *testing.T) {
	policy := DefaultRetryPolicy()
	attempts := 0
	result := Retry(context.Background(), policy, func(ctx context.Context) AttemptResult {
		attempts++
		return AttemptResult{SentInitialMetadata: true, Status: status.New(status.Unavailable, "down")}
	})
	if attempts != 1 {
		t.Errorf("expected exactly one attempt once initial metadata is sent, got %d", attempts)
	}
	if result.Code() != status.Unavailable {
		t.Errorf("expected Unavailable, got %s", result.Code())
	}
}

func TestRetryStopsOnNonRetryableCode(t *testing.T) {
	policy := DefaultRetryPolicy()
	attempts := 0
	result := Retry(context.Background(), policy, func(ctx context.Context) AttemptResult {
		attempts++
		return AttemptResult{Status: status.New(status.InvalidArgument, "bad")}
	})
	if attempts != 1 {
		t.Errorf("expected one attempt for non-retryable code, got %d", attempts)
	}
	if result.Code() != status.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %s", result.Code())
	}
}

func TestRetrySucceedsWithinMaxAttempts(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
		RetryableCodes:    []status.Code{status.Unavailable},
	}
	attempts := 0
	result := Retry(context.Background(), policy, func(ctx context.Context) AttemptResult {
		attempts++
		if attempts < 3 {
			return AttemptResult{Status: status.New(status.Unavailable, "down")}
		}
		return AttemptResult{Status: status.New(status.OK, "")}
	})
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if result != nil && result.Code() != status.OK {
		t.Errorf("expected OK, got %v", result)
	}
}

func TestChainInterceptorsAppliesInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Interceptor {
		return interceptorFunc(func(ctx context.Context, method string, req any, next Handler) (any, error) {
			order = append(order, "in:"+name)
			resp, err := next(ctx, req)
			order = append(order, "out:"+name)
			return resp, err
		})
	}

	chain := ChainInterceptors(mk("a"), mk("b"))
	_, _ = chain.Intercept(context.Background(), "/svc/Method", nil, func(ctx context.Context, req any) (any, error) {
		order = append(order, "handler")
		return nil, nil
	})

	want := []string{"in:a", "in:b", "handler", "out:b", "out:a"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

type interceptorFunc func(ctx context.Context, method string, req any, next Handler) (any, error)

func (f interceptorFunc) Intercept(ctx context.Context, method string, req any, next Handler) (any, error) {
	return f(ctx, method, req, next)
}

func TestNewCallRejectsMalformedMethodDescriptor(t *testing.T) {
	call := NewCall(context.Background(), MethodDescriptor{FullName: "svc/Unary", Kind: Unary}, stream.Client, CallOptions{})

	st, ok := call.machine.FinalStatus()
	if !ok {
		t.Fatal("expected the call to already be terminal")
	}
	if st.Code() != status.InvalidArgument {
		t.Errorf("got %s, want InvalidArgument", st.Code())
	}
}

func TestNewCallRejectsNegativeSizeBound(t *testing.T) {
	call := NewCall(context.Background(), MethodDescriptor{FullName: "/svc/Unary", Kind: Unary}, stream.Client,
		CallOptions{MaxReceiveSize: -1})

	st, ok := call.machine.FinalStatus()
	if !ok {
		t.Fatal("expected the call to already be terminal")
	}
	if st.Code() != status.InvalidArgument {
		t.Errorf("got %s, want InvalidArgument", st.Code())
	}
}
