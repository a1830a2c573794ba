// Package ccxt adapts a ccxt-driven exchange to the broker.Broker
// contract. It is the live counterpart of broker/sim; only the five
// calls the execution core needs are exposed.
package ccxt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"github.com/rustyeddy/livetrader/broker"
)

type Config struct {
	APIKey     string
	APISecret  string
	Symbol     string
	UseSandbox bool
}

type Client struct {
	cfg      Config
	exchange *ccxt.Binanceusdm
	logger   *zap.Logger

	marketsMu     sync.Mutex
	marketsLoaded bool
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("ccxt: symbol is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{cfg: cfg, exchange: ex, logger: logger}, nil
}

// Login loads exchange market metadata; ccxt authenticates lazily on
// the first signed call, so a successful load is our readiness check.
func (c *Client) Login(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return broker.NewCallError("login", broker.KindTimeout, err)
	}
	if _, err := c.exchange.LoadMarkets(); err != nil {
		return classify("login", err)
	}
	c.marketsLoaded = true
	c.logger.Info("exchange markets loaded", zap.String("symbol", c.cfg.Symbol))
	return nil
}

func (c *Client) ListAccounts(ctx context.Context) ([]broker.AccountSummary, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}

	balances, err := c.exchange.FetchBalance()
	if err != nil {
		return nil, classify("accounts", err)
	}

	acct := broker.AccountSummary{ID: c.cfg.Symbol, Currency: "USDT"}
	if balances.Total != nil {
		for _, code := range []string{"USDT", "USDC", "USD"} {
			if total, ok := balances.Total[code]; ok && total != nil {
				acct.Balance = *total
				acct.Currency = code
				break
			}
		}
	}
	if balances.Free != nil {
		for _, code := range []string{"USDT", "USDC", "USD"} {
			if free, ok := balances.Free[code]; ok && free != nil {
				acct.Available = *free
				break
			}
		}
	}
	return []broker.AccountSummary{acct}, nil
}

func (c *Client) ListPositions(ctx context.Context) ([]broker.Position, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}

	raw, err := c.exchange.FetchPositions()
	if err != nil {
		return nil, classify("positions", err)
	}

	out := make([]broker.Position, 0, len(raw))
	for _, p := range raw {
		size := derefFloat(p.Contracts)
		if size == 0 {
			continue
		}

		direction := broker.DirectionBuy
		if strings.EqualFold(derefString(p.Side), "short") {
			direction = broker.DirectionSell
		}

		dealID := derefString(p.Id)
		if dealID == "" {
			// Perp venues keep one net position per symbol and side.
			dealID = fmt.Sprintf("%s:%s", derefString(p.Symbol), direction)
		}

		opened := time.Now().UTC()
		if p.Timestamp != nil {
			opened = time.UnixMilli(int64(*p.Timestamp)).UTC()
		}

		out = append(out, broker.Position{
			DealID:    dealID,
			Epic:      derefString(p.Symbol),
			Direction: direction,
			Size:      size,
			OpenLevel: derefFloat(p.EntryPrice),
			OpenedAt:  opened,
		})
	}
	return out, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return broker.OrderResult{}, err
	}

	params := map[string]interface{}{}
	if req.StopLoss != nil {
		params["stopLossPrice"] = *req.StopLoss
	}
	if req.TakeProfit != nil {
		params["takeProfitPrice"] = *req.TakeProfit
	}

	var opts []ccxt.CreateMarketOrderOptions
	if len(params) > 0 {
		opts = append(opts, ccxt.WithCreateMarketOrderParams(params))
	}

	order, err := c.exchange.CreateMarketOrder(req.Epic, sideOf(req.Direction), req.Size, opts...)
	if err != nil {
		return broker.OrderResult{}, classify("order", err)
	}

	return broker.OrderResult{
		DealID: derefString(order.Id),
		Status: broker.StatusFilled,
		Level:  derefFloat(order.Average),
	}, nil
}

func (c *Client) ClosePosition(ctx context.Context, req broker.CloseRequest) (broker.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return broker.OrderResult{}, err
	}

	params := map[string]interface{}{"reduceOnly": true}
	opts := []ccxt.CreateMarketOrderOptions{ccxt.WithCreateMarketOrderParams(params)}

	// Close on the position's own symbol; FetchPositions reports every
	// symbol the account holds, not just the configured one.
	symbol := req.Epic
	if symbol == "" {
		symbol = c.cfg.Symbol
	}

	order, err := c.exchange.CreateMarketOrder(
		symbol, sideOf(req.Direction.Opposite()), req.Size, opts...)
	if err != nil {
		return broker.OrderResult{}, classify("close", err)
	}

	return broker.OrderResult{
		DealID: derefString(order.Id),
		Status: broker.StatusClosed,
		Level:  derefFloat(order.Average),
	}, nil
}

func sideOf(d broker.Direction) string {
	if d == broker.DirectionSell {
		return "sell"
	}
	return "buy"
}

// classify maps ccxt failures onto the adapter error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return broker.NewCallError(op, broker.KindTimeout, err)
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.RateLimitExceededErrType, ccxt.DDoSProtectionErrType:
			return broker.NewCallError(op, broker.KindRateLimit, err)
		case ccxt.RequestTimeoutErrType:
			return broker.NewCallError(op, broker.KindTimeout, err)
		case ccxt.NetworkErrorErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.OnMaintenanceErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return broker.NewCallError(op, broker.KindNetwork, err)
		case ccxt.AuthenticationErrorErrType, ccxt.PermissionDeniedErrType:
			return broker.NewCallError(op, broker.KindAuth, err)
		case ccxt.InsufficientFundsErrType, ccxt.InvalidOrderErrType:
			return broker.NewCallError(op, broker.KindRejected, err)
		}
	}
	return broker.NewCallError(op, broker.KindUnknown, err)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

var _ broker.Broker = (*Client)(nil)
