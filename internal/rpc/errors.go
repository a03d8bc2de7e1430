package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrRateLimited is returned once the retry budget for rate-limit errors is spent.
var ErrRateLimited = errors.New("rate limited: retries exhausted")

var rateLimitCodes = map[int]struct{}{
	-32005: {}, // limit exceeded (EIP-1474)
	-32029: {},
	-32090: {},
}

var rateLimitMarkers = []string{
	"rate limit",
	"ratelimit",
	"too many requests",
	"request limit",
	"limit exceeded",
	"exceeded the quota",
	"compute units",
	"capacity",
	"throttl",
	"429",
}

// IsRateLimit reports whether err is the provider pushing back, as opposed to
// a real failure of the request.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode == http.StatusServiceUnavailable {
			return true
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if _, ok := rateLimitCodes[rpcErr.ErrorCode()]; ok {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether a single request ran out of time: its own
// deadline, a network timeout, or a gateway timeout from the provider.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusGatewayTimeout || httpErr.StatusCode == http.StatusRequestTimeout {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}

// IsRevert reports whether an eth_call failed because the contract reverted
// or does not implement the method.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "invalid opcode") ||
		strings.Contains(msg, "no contract code")
}
