// Package nwc connects to a wallet-connect bridge that relays JSON-RPC
// requests to the user's remote wallet. The bridge owns relay transport and
// encryption; this package only frames requests and correlates responses.
package nwc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"walletd/internal/core"
	apperrors "walletd/pkg/errors"
	"walletd/pkg/websocket"

	"github.com/google/uuid"
)

const (
	MethodGetBalance  = "get_balance"
	MethodPayInvoice  = "pay_invoice"
	defaultReqTimeout = 60 * time.Second
)

// Config configures the bridge connection
type Config struct {
	URL            string
	Token          string
	RequestTimeout time.Duration
	ReconnectWait  time.Duration
}

type request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type response struct {
	ID         string          `json:"id"`
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result"`
	Error      *rpcError       `json:"error"`
}

type outcome struct {
	result json.RawMessage
	err    error
}

// Bridge implements core.IWalletConnector over a websocket bridge
type Bridge struct {
	ws      *websocket.Client
	timeout time.Duration
	logger  core.ILogger

	mu      sync.Mutex
	pending map[string]chan outcome
}

func NewBridge(cfg Config, logger core.ILogger) *Bridge {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultReqTimeout
	}
	b := &Bridge{
		timeout: cfg.RequestTimeout,
		logger:  logger.WithField("component", "nwc_bridge"),
		pending: make(map[string]chan outcome),
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	b.ws = websocket.NewClient(cfg.URL, b.handle, websocket.Options{
		Header:        header,
		ReconnectWait: cfg.ReconnectWait,
		OnDisconnect:  b.failPending,
	}, logger)
	return b
}

// Start connects in the background and keeps reconnecting until Stop
func (b *Bridge) Start() {
	b.ws.Start()
}

func (b *Bridge) Stop() {
	b.ws.Stop()
	b.failPending()
}

func (b *Bridge) IsConnected() bool {
	return b.ws.Connected()
}

// Provider returns a payment provider bound to the live connection
func (b *Bridge) Provider(ctx context.Context) (core.IPaymentProvider, error) {
	if !b.IsConnected() {
		return nil, apperrors.ErrWalletNotConnected
	}
	return &provider{bridge: b}, nil
}

func (b *Bridge) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if params == nil {
		params = struct{}{}
	}
	id := uuid.NewString()
	ch := make(chan outcome, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := b.ws.Send(request{ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrWalletNotConnected, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-timer.C:
		return nil, fmt.Errorf("%s: no response from wallet after %s", method, b.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) handle(message []byte) {
	var resp response
	if err := json.Unmarshal(message, &resp); err != nil {
		b.logger.Warn("Dropping malformed bridge message", "error", err)
		return
	}

	b.mu.Lock()
	ch, ok := b.pending[resp.ID]
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("Response for unknown request", "id", resp.ID, "type", resp.ResultType)
		return
	}

	out := outcome{result: resp.Result}
	if resp.Error != nil {
		out = outcome{err: resp.Error}
	}
	select {
	case ch <- out:
	default:
		b.logger.Warn("Duplicate response ignored", "id", resp.ID)
	}
}

func (b *Bridge) failPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.pending {
		select {
		case ch <- outcome{err: apperrors.ErrWalletNotConnected}:
		default:
		}
		delete(b.pending, id)
	}
}
