package adapter

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/fixedpoint"
	"github.com/pool-metrics/internal/logging"
	"github.com/pool-metrics/internal/metrics"
)

const (
	upstreamStarknet = "starknet_rpc"
	blockLatest      = "latest"
)

// selectorMask keeps the low 250 bits of a Keccak-256 digest
var selectorMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// EntryPointSelector returns the Starknet selector of a function name:
// Keccak-256 of the ASCII name truncated to 250 bits.
func EntryPointSelector(name string) *big.Int {
	digest := new(big.Int).SetBytes(crypto.Keccak256([]byte(name)))
	return digest.And(digest, selectorMask)
}

// functionCall is the request object of starknet_call
type functionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

// StarknetClient reads contract state over Starknet JSON-RPC
type StarknetClient struct {
	provider *EndpointProvider
	timeout  time.Duration

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

// NewStarknetClient creates a client for the given endpoint provider
func NewStarknetClient(provider *EndpointProvider, timeout time.Duration) *StarknetClient {
	return &StarknetClient{
		provider: provider,
		timeout:  timeout,
		clients:  make(map[string]*rpc.Client),
	}
}

// client returns a cached rpc.Client for url, dialing on first use
func (c *StarknetClient) client(ctx context.Context, url string) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[url]; ok {
		return cl, nil
	}
	cl, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	c.clients[url] = cl
	return cl, nil
}

// Close closes all underlying RPC connections
func (c *StarknetClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, cl := range c.clients {
		cl.Close()
		delete(c.clients, url)
	}
}

// Health returns the health of the active endpoint
func (c *StarknetClient) Health() *EndpointHealth {
	return c.provider.Health()
}

// ResetEndpoint routes the next call to the primary endpoint again
func (c *StarknetClient) ResetEndpoint() {
	c.provider.Reset()
}

// call executes one JSON-RPC method, failing over to the secondary endpoint
// once when the active endpoint errors.
func (c *StarknetClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	attempts := 1
	if c.provider.HasSecondary() {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		url := c.provider.CurrentURL()
		lastErr = c.callEndpoint(ctx, url, result, method, args...)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if i+1 < attempts {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"method":   method,
				"endpoint": url,
			}).WithError(lastErr).Warn("RPC call failed, failing over")
			_ = c.provider.Failover()
		}
	}
	return apperrors.NewUpstreamUnavailableError(upstreamStarknet, lastErr)
}

func (c *StarknetClient) callEndpoint(ctx context.Context, url string, result interface{}, method string, args ...interface{}) error {
	cl, err := c.client(ctx, url)
	if err != nil {
		c.provider.RecordFailure()
		return err
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err = cl.CallContext(callCtx, result, method, args...)
	elapsed := time.Since(start)
	metrics.UpstreamDuration.WithLabelValues(upstreamStarknet).Observe(elapsed.Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(upstreamStarknet, "error").Inc()
		c.provider.RecordFailure()
		return fmt.Errorf("%s: %w", method, err)
	}
	metrics.UpstreamRequests.WithLabelValues(upstreamStarknet, "ok").Inc()
	c.provider.RecordSuccess(elapsed)
	return nil
}

// BlockNumber returns the latest accepted block height
func (c *StarknetClient) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, &height, "starknet_blockNumber"); err != nil {
		return 0, err
	}
	return height, nil
}

// Call invokes a view function and returns the raw felts of its result
func (c *StarknetClient) Call(ctx context.Context, contract *big.Int, function string, calldata ...*big.Int) ([]*big.Int, error) {
	req := functionCall{
		ContractAddress:    hexutil.EncodeBig(contract),
		EntryPointSelector: hexutil.EncodeBig(EntryPointSelector(function)),
		Calldata:           make([]string, len(calldata)),
	}
	for i, arg := range calldata {
		req.Calldata[i] = hexutil.EncodeBig(arg)
	}

	var raw []string
	if err := c.call(ctx, &raw, "starknet_call", req, blockLatest); err != nil {
		return nil, err
	}

	felts := make([]*big.Int, len(raw))
	for i, s := range raw {
		v, err := fixedpoint.ParseHexInt(s)
		if err != nil {
			return nil, apperrors.NewUpstreamUnavailableError(upstreamStarknet,
				fmt.Errorf("%s returned malformed felt %d: %w", function, i, err))
		}
		felts[i] = v
	}
	return felts, nil
}

// GetUnlockedCapital reads the pool's unlocked capital, a Uint256 {low, high}
func (c *StarknetClient) GetUnlockedCapital(ctx context.Context, amm, lpToken *big.Int) (*big.Int, error) {
	felts, err := c.Call(ctx, amm, "get_unlocked_capital", lpToken)
	if err != nil {
		return nil, err
	}
	if len(felts) < 2 {
		return nil, malformedResult("get_unlocked_capital", len(felts))
	}
	return fixedpoint.Uint256(felts[0], felts[1]), nil
}

// GetValueOfPoolPosition reads the value of the pool's locked positions as a
// signed fixed-point integer (scale 2^64).
func (c *StarknetClient) GetValueOfPoolPosition(ctx context.Context, amm, lpToken *big.Int) (*big.Int, error) {
	felts, err := c.Call(ctx, amm, "get_value_of_pool_position", lpToken)
	if err != nil {
		return nil, err
	}
	if len(felts) < 2 {
		return nil, malformedResult("get_value_of_pool_position", len(felts))
	}
	return fixedpoint.SignedMagnitude(felts[0], felts[1]), nil
}

func malformedResult(function string, n int) error {
	return apperrors.NewUpstreamUnavailableError(upstreamStarknet,
		fmt.Errorf("%s returned %d felts, want 2", function, n))
}
