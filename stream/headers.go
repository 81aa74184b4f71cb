package stream

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coreflux/grpcrt/metadata"
	"github.com/coreflux/grpcrt/status"
)

// InboundHeaders is the result of classifying a HEADERS frame's pairs per
// spec.md §4.2 "Headers → metadata mapping".
type InboundHeaders struct {
	// MD is the user-visible metadata: pseudo-headers and gRPC control keys
	// stripped out.
	MD *metadata.MD
	// Encoding is the grpc-encoding value, or encoding.Identity if absent.
	Encoding string
	// AcceptEncoding is the raw grpc-accept-encoding value, or "".
	AcceptEncoding string
	// Timeout is the raw grpc-timeout value (parse it with DecodeTimeout),
	// or "" if absent.
	Timeout string
}

// Header is the minimal shape the transport layer hands the stream
// package: an ordered list of header key/value pairs exactly as received,
// pseudo-headers included.
type Header struct {
	Key, Value string
}

// ClassifyRequestHeaders processes client request headers (spec.md §4.2):
// validates :method/:scheme/:path/:authority presence is the transport's
// job, but content-type and the gRPC control keys are this package's
// concern, since they gate framing and timeout behavior.
func ClassifyRequestHeaders(pairs []Header) (*InboundHeaders, error) {
	return classify(pairs, "")
}

// ClassifyResponseHeaders processes server response headers, validating the
// synthetic :status pseudo-header equals 200 before anything else proceeds
// (spec.md §4.2: ":status must be 200 to proceed").
func ClassifyResponseHeaders(pairs []Header, httpStatus string) (*InboundHeaders, error) {
	if httpStatus != "200" {
		code, err := strconv.Atoi(httpStatus)
		if err != nil {
			code = 0
		}
		return nil, status.FromHTTP(code).Err()
	}
	return classify(pairs, httpStatus)
}

func classify(pairs []Header, _ string) (*InboundHeaders, error) {
	out := &InboundHeaders{MD: metadata.New()}
	sawContentType := false

	for _, p := range pairs {
		key := strings.ToLower(p.Key)
		switch {
		case strings.HasPrefix(key, ":"):
			continue // pseudo-headers stripped per spec.md §4.2
		case key == "content-type":
			sawContentType = true
			if !strings.HasPrefix(p.Value, "application/grpc") {
				return nil, status.New(status.Internal, "content-type does not start with application/grpc").Err()
			}
		case key == "grpc-encoding":
			out.Encoding = p.Value
		case key == "grpc-accept-encoding":
			out.AcceptEncoding = p.Value
		case key == "grpc-timeout":
			out.Timeout = p.Value
		case key == "grpc-status", key == "grpc-message":
			// handled by trailer classification, not headers
			continue
		case key == "te", key == "user-agent":
			continue
		default:
			if metadata.IsBinary(p.Key) {
				if err := out.MD.AppendBinary(p.Key, []byte(p.Value)); err != nil {
					return nil, fmt.Errorf("stream: %w", err)
				}
			} else if err := out.MD.Append(p.Key, p.Value); err != nil {
				return nil, fmt.Errorf("stream: %w", err)
			}
		}
	}

	if !sawContentType {
		return nil, status.New(status.Internal, "missing content-type header").Err()
	}
	return out, nil
}

// TrailerStatus is the decoded terminal Status carried in trailing headers
// (server → client). Spec.md §4.2 invariant 4: if grpc-status is missing,
// the client treats the call as Unknown.
func TrailerStatus(pairs []Header) (*status.Status, *metadata.MD) {
	md := metadata.New()
	code := status.Unknown
	message := ""
	sawStatus := false

	for _, p := range pairs {
		key := strings.ToLower(p.Key)
		switch key {
		case "grpc-status":
			if n, err := strconv.Atoi(p.Value); err == nil {
				code = status.Code(n)
				sawStatus = true
			}
		case "grpc-message":
			message = percentDecode(p.Value)
		default:
			if strings.HasPrefix(key, ":") {
				continue
			}
			if metadata.IsBinary(p.Key) {
				_ = md.AppendBinary(p.Key, []byte(p.Value))
			} else {
				_ = md.Append(p.Key, p.Value)
			}
		}
	}

	if !sawStatus {
		code = status.Unknown
	}
	return status.New(code, message), md
}

// EncodeTrailerStatus renders a terminal Status as the grpc-status and
// (if non-empty) percent-encoded grpc-message trailer pairs a server
// writes, per spec.md §6.
func EncodeTrailerStatus(s *status.Status) []Header {
	pairs := []Header{{Key: "grpc-status", Value: strconv.Itoa(int(s.Code()))}}
	if s.Message() != "" {
		pairs = append(pairs, Header{Key: "grpc-message", Value: percentEncode(s.Message())})
	}
	return pairs
}

// percentEncode escapes bytes outside the printable-ASCII-minus-percent
// range the grpc-message wire format requires.
func percentEncode(s string) string {
	needsEscape := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e || c == '%' {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e || c == '%' {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// percentDecode reverses the percent-encoding grpc-message uses for
// non-printable/UTF-8 message bytes. Malformed escapes are passed through
// literally rather than erroring, matching the wire format's tolerant
// decoding expectations.
func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
