package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvestream/indexer/internal/config"
)

// headNode answers eth_chainId and eth_blockNumber. While down is set,
// eth_blockNumber fails with HTTP 500.
func headNode(t *testing.T, chainID string, down *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Method == "eth_blockNumber" && down.Load() {
			http.Error(w, "upstream unavailable", http.StatusInternalServerError)
			return
		}
		resp := jsonrpcResp{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "eth_chainId":
			resp.Result = chainID
		case "eth_blockNumber":
			resp.Result = "0x10"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDial_UnhealthyChainSkippedOnlyForThatRun(t *testing.T) {
	var ethDown, baseDown atomic.Bool
	ethDown.Store(true)
	eth := headNode(t, "0x1", &ethDown)
	base := headNode(t, "0x2105", &baseDown)

	cfg := &config.Config{
		Chains: []config.ChainConfig{
			{ChainID: 1, RPCEndpoint: eth.URL, MinCallDelay: time.Millisecond},
			{ChainID: 8453, RPCEndpoint: base.URL, MinCallDelay: time.Millisecond},
		},
		RPC: config.RPCConfig{MaxAttempts: 1, HealthCheckTimeout: time.Second},
	}
	ctx := context.Background()

	first, err := Dial(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	_, ok := first.Chain(1)
	assert.False(t, ok)
	assert.Equal(t, []int64{1}, first.Skipped())
	require.Len(t, first.Chains(), 1)
	first.Close()
	assert.Empty(t, first.Chains())

	// the endpoint recovers; the next run dials it again
	ethDown.Store(false)
	second, err := Dial(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer second.Close()
	assert.Empty(t, second.Skipped())
	require.Len(t, second.Chains(), 2)
	assert.Equal(t, int64(1), second.Chains()[0].Profile.ChainID)
}

func TestDial_NoUsableChains(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	node := headNode(t, "0x1", &down)

	cfg := &config.Config{
		Chains: []config.ChainConfig{{ChainID: 1, RPCEndpoint: node.URL}},
		RPC:    config.RPCConfig{MaxAttempts: 1, HealthCheckTimeout: time.Second},
	}
	_, err := Dial(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
