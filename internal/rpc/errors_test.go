package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
)

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

type revertError struct{ codedError }

func (e revertError) ErrorData() interface{} { return "0x08c379a0" }

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", gethrpc.HTTPError{StatusCode: 429}, true},
		{"http 503", gethrpc.HTTPError{StatusCode: 503}, true},
		{"http 500", gethrpc.HTTPError{StatusCode: 500, Status: "500 Internal Server Error"}, false},
		{"json-rpc limit code", codedError{code: -32005, msg: "slow down"}, true},
		{"json-rpc other code", codedError{code: -32000, msg: "header not found"}, false},
		{"wrapped message", fmt.Errorf("failed to get logs: %w", errors.New("Your app has exceeded its compute units per second capacity")), true},
		{"throttled", errors.New("request throttled"), true},
		{"plain failure", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimit(tt.err))
		})
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("get logs: %w", context.DeadlineExceeded), true},
		{"gateway timeout", gethrpc.HTTPError{StatusCode: 504}, true},
		{"message", errors.New("i/o timeout"), true},
		{"rate limit", gethrpc.HTTPError{StatusCode: 429}, false},
		{"refused", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTimeout(tt.err))
		})
	}
}

func TestIsRevert(t *testing.T) {
	assert.True(t, IsRevert(errors.New("execution reverted")))
	assert.True(t, IsRevert(revertError{codedError{code: -32000, msg: "custom error"}}))
	assert.True(t, IsRevert(codedError{code: 3, msg: "reverted"}))
	assert.False(t, IsRevert(codedError{code: -32000, msg: "header not found"}))
	assert.False(t, IsRevert(nil))
}
