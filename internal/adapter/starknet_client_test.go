package adapter

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pool-metrics/internal/errors"
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// newRPCServer serves JSON-RPC requests with handle and records every call
func newRPCServer(t *testing.T, handle func(req rpcRequest) (interface{}, *int)) (*httptest.Server, *[]rpcRequest) {
	t.Helper()
	var seen []rpcRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		seen = append(seen, req)

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		result, errCode := handle(req)
		if errCode != nil {
			resp["error"] = map[string]interface{}{"code": *errCode, "message": "contract error"}
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestEntryPointSelector(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"transfer", "0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e"},
		{"get_unlocked_capital", "0x27e73afcf5eeea68f07ecec320a8a6ef66a0fec2a6555c98d7906efd26bafb9"},
		{"get_value_of_pool_position", "0x399adda47235e1d39043a5931bead6042f3990866c6bd3091f582014f8a4f90"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, ok := new(big.Int).SetString(tt.want[2:], 16)
			require.True(t, ok)
			assert.Equal(t, 0, EntryPointSelector(tt.name).Cmp(want))
		})
	}
}

func TestStarknetClientReadsCapital(t *testing.T) {
	srv, seen := newRPCServer(t, func(req rpcRequest) (interface{}, *int) {
		switch req.Method {
		case "starknet_blockNumber":
			return 654321, nil
		case "starknet_call":
			var call functionCall
			_ = json.Unmarshal(req.Params[0], &call)
			switch call.EntryPointSelector {
			case "0x27e73afcf5eeea68f07ecec320a8a6ef66a0fec2a6555c98d7906efd26bafb9":
				// low = 1000, high = 1
				return []string{"0x3e8", "0x1"}, nil
			case "0x399adda47235e1d39043a5931bead6042f3990866c6bd3091f582014f8a4f90":
				// mag = 2^65, sign = 1
				return []string{"0x20000000000000000", "0x1"}, nil
			}
		}
		code := -32601
		return nil, &code
	})

	provider, err := NewEndpointProvider(srv.URL, "")
	require.NoError(t, err)
	client := NewStarknetClient(provider, time.Second)
	defer client.Close()

	ctx := context.Background()
	amm := big.NewInt(0xa11)
	lp := big.NewInt(0x1b)

	height, err := client.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(654321), height)

	unlocked, err := client.GetUnlockedCapital(ctx, amm, lp)
	require.NoError(t, err)
	want := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1000))
	assert.Equal(t, 0, unlocked.Cmp(want))

	locked, err := client.GetValueOfPoolPosition(ctx, amm, lp)
	require.NoError(t, err)
	assert.Equal(t, 0, locked.Cmp(new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 65))))

	require.Len(t, *seen, 3)
	var call functionCall
	require.NoError(t, json.Unmarshal((*seen)[1].Params[0], &call))
	assert.Equal(t, "0xa11", call.ContractAddress)
	assert.Equal(t, []string{"0x1b"}, call.Calldata)
	var block string
	require.NoError(t, json.Unmarshal((*seen)[1].Params[1], &block))
	assert.Equal(t, "latest", block)

	health := client.Health()
	assert.Equal(t, int64(3), health.SuccessfulReqs)
	assert.True(t, health.IsHealthy)
}

func TestStarknetClientFailsOverToSecondary(t *testing.T) {
	var primaryCalls int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryCalls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	secondary, _ := newRPCServer(t, func(req rpcRequest) (interface{}, *int) {
		return 42, nil
	})

	provider, err := NewEndpointProvider(primary.URL, secondary.URL)
	require.NoError(t, err)
	client := NewStarknetClient(provider, time.Second)
	defer client.Close()

	height, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)
	assert.Equal(t, int32(1), atomic.LoadInt32(&primaryCalls))
	assert.Equal(t, secondary.URL, provider.CurrentURL())
	assert.Equal(t, int64(1), client.Health().FailedReqs)

	client.ResetEndpoint()
	assert.Equal(t, primary.URL, client.Health().CurrentURL)
}

func TestStarknetClientUpstreamError(t *testing.T) {
	srv, _ := newRPCServer(t, func(req rpcRequest) (interface{}, *int) {
		code := 40
		return nil, &code
	})

	provider, err := NewEndpointProvider(srv.URL, "")
	require.NoError(t, err)
	client := NewStarknetClient(provider, time.Second)
	defer client.Close()

	_, err = client.GetUnlockedCapital(context.Background(), big.NewInt(1), big.NewInt(2))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUpstreamUnavailable))
	assert.Equal(t, int64(1), client.Health().FailedReqs)
}

func TestStarknetClientShortResult(t *testing.T) {
	srv, _ := newRPCServer(t, func(req rpcRequest) (interface{}, *int) {
		return []string{"0x1"}, nil
	})

	provider, err := NewEndpointProvider(srv.URL, "")
	require.NoError(t, err)
	client := NewStarknetClient(provider, time.Second)
	defer client.Close()

	_, err = client.GetValueOfPoolPosition(context.Background(), big.NewInt(1), big.NewInt(2))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUpstreamUnavailable))
}
