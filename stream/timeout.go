package stream

import (
	"fmt"
	"time"
)

// timeoutUnits lists the grpc-timeout unit suffixes in longest-duration-first
// order, matching the table in spec.md §4.2.
var timeoutUnits = []struct {
	suffix byte
	unit   time.Duration
}{
	{'H', time.Hour},
	{'M', time.Minute},
	{'S', time.Second},
	{'m', time.Millisecond},
	{'u', time.Microsecond},
	{'n', time.Nanosecond},
}

// maxTimeoutDigits is the longest decimal value grpc-timeout accepts.
const maxTimeoutDigits = 8

// EncodeTimeout renders a remaining duration as a grpc-timeout header value:
// a positive integer followed by a single unit character (a zero or
// negative d renders as "0n", which DecodeTimeout rejects). Spec.md §8
// requires the codec be a bijection over positive durations, so it first
// looks for the coarsest unit that divides d exactly (no remainder) and
// fits within maxTimeoutDigits digits — that is always a lossless round
// trip through DecodeTimeout. When d doesn't divide evenly into any unit
// (sub-millisecond jitter from time.Until is the common case) or the exact
// value would overflow the digit limit, it falls back to rounding up at
// the finest unit that fits, the way real gRPC implementations do: rounding
// up never hands the peer a shorter deadline than the caller intended,
// where rounding down would.
func EncodeTimeout(d time.Duration) (string, error) {
	if d <= 0 {
		return "0n", nil
	}

	for _, u := range timeoutUnits { // coarsest first: H, M, S, m, u, n
		if d%u.unit != 0 {
			continue
		}
		value := int64(d / u.unit)
		if fitsDigits(value, maxTimeoutDigits) {
			return fmt.Sprintf("%d%c", value, u.suffix), nil
		}
	}

	for i := len(timeoutUnits) - 1; i >= 0; i-- { // finest first: n, u, m, S, M, H
		u := timeoutUnits[i]
		value := ceilDiv(d, u.unit)
		if fitsDigits(value, maxTimeoutDigits) {
			return fmt.Sprintf("%d%c", value, u.suffix), nil
		}
	}

	return "", fmt.Errorf("stream: duration %s cannot be encoded within %d digits", d, maxTimeoutDigits)
}

// ceilDiv divides d by unit, rounding up.
func ceilDiv(d, unit time.Duration) int64 {
	return int64((d + unit - 1) / unit)
}

func fitsDigits(v int64, digits int) bool {
	limit := int64(1)
	for i := 0; i < digits; i++ {
		limit *= 10
	}
	return v > 0 && v < limit
}

// DecodeTimeout parses a grpc-timeout header value into a duration.
func DecodeTimeout(raw string) (time.Duration, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("stream: invalid grpc-timeout %q", raw)
	}

	digits := raw[:len(raw)-1]
	suffix := raw[len(raw)-1]

	if len(digits) > maxTimeoutDigits {
		return 0, fmt.Errorf("stream: grpc-timeout value %q exceeds %d digits", digits, maxTimeoutDigits)
	}

	var value int64
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("stream: grpc-timeout %q is not a positive integer", raw)
		}
		value = value*10 + int64(c-'0')
	}
	if value <= 0 {
		return 0, fmt.Errorf("stream: grpc-timeout %q must be a positive integer", raw)
	}

	for _, u := range timeoutUnits {
		if u.suffix == suffix {
			return time.Duration(value) * u.unit, nil
		}
	}
	return 0, fmt.Errorf("stream: unknown grpc-timeout unit %q", string(suffix))
}
