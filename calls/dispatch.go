package calls

// ServeUnary invokes a unary handler against a server call, validating that
// the call's MethodDescriptor actually describes a unary method: a wiring
// bug that registered the wrong handler kind must fail loudly rather than
// silently reading one request and ignoring the rest of the stream.
func ServeUnary[Req, Res any](h UnaryHandler[Req, Res], call *ServerCall[Req, Res]) (*Res, error) {
	if call.Method.Kind != Unary {
		return nil, errUnexpectedKind
	}
	req, err := call.Recv()
	if err != nil {
		return nil, err
	}
	return h(call.Context(), req)
}

// ServeClientStream invokes a client-streaming handler, handing it the
// server call's inbound pipe as the Receiver.
func ServeClientStream[Req, Res any](h ClientStreamHandler[Req, Res], call *ServerCall[Req, Res]) (*Res, error) {
	if call.Method.Kind != ClientStreaming {
		return nil, errUnexpectedKind
	}
	return h(call.Context(), call)
}

// ServeServerStream invokes a server-streaming handler: one request in,
// a lazy sequence of responses out via the server call's outbound Sender.
func ServeServerStream[Req, Res any](h ServerStreamHandler[Req, Res], call *ServerCall[Req, Res]) error {
	if call.Method.Kind != ServerStreaming {
		return errUnexpectedKind
	}
	req, err := call.Recv()
	if err != nil {
		return err
	}
	return h(call.Context(), req, call)
}

// ServeBidiStream invokes a bidi handler with full read/write access to the
// server call.
func ServeBidiStream[Req, Res any](h BidiStreamHandler[Req, Res], call *ServerCall[Req, Res]) error {
	if call.Method.Kind != BidiStreaming {
		return errUnexpectedKind
	}
	return h(call.Context(), call)
}
