package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
	pkgrpc "github.com/wjz5788/leverageguard-attestor-sub002/pkg/rpc"
)

// Compile-time check to ensure Client implements pkgrpc.EthClient interface.
var _ pkgrpc.EthClient = (*Client)(nil)

// ErrNotificationsUnsupported is returned by SubscribeLogs on endpoints that cannot push (plain HTTP).
var ErrNotificationsUnsupported = rpc.ErrNotificationsUnsupported

const defaultRequestTimeout = 30 * time.Second

// Client wraps the go-ethereum client. Every call is bounded by the request timeout
// and retried with exponential backoff on transient failures.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client

	retry          *config.RetryConfig
	requestTimeout time.Duration
	log            *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithRequestTimeout bounds each RPC attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new RPC client connected to the given endpoint.
// A nil retryCfg disables retries.
func NewClient(ctx context.Context, endpoint string, retryCfg *config.RetryConfig, opts ...Option) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	c := &Client{
		eth:            ethclient.NewClient(rpcClient),
		rpc:            rpcClient,
		retry:          retryCfg,
		requestTimeout: defaultRequestTimeout,
		log:            logger.NewNopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the most recent block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		n, err = c.eth.BlockNumber(ctx)
		return err
	})
	return n, err
}

// GetLogs retrieves logs matching the given filter query.
// "Too many results" errors are returned unretried so the caller can split the range.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		var err error
		receipt, err = c.eth.TransactionReceipt(ctx, txHash)
		return err
	})
	return receipt, err
}

// SubscribeLogs opens an eth_subscribe("logs") stream. Only the subscription request
// is bounded by the request timeout; the stream itself lives until unsubscribed.
func (c *Client) SubscribeLogs(
	ctx context.Context,
	query ethereum.FilterQuery,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	const method = "eth_subscribe"
	RPCMethodInc(method)

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	sub, err := c.eth.SubscribeFilterLogs(reqCtx, query, ch)
	RPCMethodDuration(method, time.Since(start))
	if err != nil {
		RPCMethodError(method, classifyError(err))
		return nil, err
	}

	return sub, nil
}

// call runs fn with a per-attempt timeout inside the retry loop and records metrics.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	start := time.Now()
	RPCMethodInc(method)

	err := retryWithBackoff(ctx, c.retry, method, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		err := fn(attemptCtx)
		if err != nil && retryableError(err) {
			c.log.Debugw("retryable RPC error", "method", method, "error", err)
		}
		return err
	})

	RPCMethodDuration(method, time.Since(start))
	if err != nil {
		RPCMethodError(method, classifyError(err))
	}

	return err
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ethereum.NotFound):
		return "not_found"
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		return "notifications_unsupported"
	case IsRateLimitError(err):
		return "rate_limited"
	}

	if ok, _ := IsTooManyResultsError(err); ok {
		return "too_many_results"
	}

	return "other"
}
