package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/connector"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

const bybitRecvWindow = "5000"

// BybitGateway routes spot orders through the Bybit v5 REST API. Private
// requests are signed HMAC-SHA256 over timestamp+key+recvWindow+payload.
type BybitGateway struct {
	client    *resty.Client
	apiKey    string
	apiSecret string
	breaker   *gobreaker.CircuitBreaker
	log       zerolog.Logger
}

// NewBybitGateway builds a gateway with the configured credentials.
func NewBybitGateway(cfg config.ExchangeConfig, breaker *gobreaker.CircuitBreaker, log zerolog.Logger) *BybitGateway {
	base := cfg.RESTURL
	if base == "" {
		base = "https://api.bybit.com"
	}
	return &BybitGateway{
		client:    resty.New().SetBaseURL(base).SetTimeout(10 * time.Second),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		breaker:   breaker,
		log:       log.With().Str("component", "bybit_gateway").Logger(),
	}
}

// Exchange implements Gateway.
func (g *BybitGateway) Exchange() string { return "bybit" }

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sign produces the X-BAPI-SIGN header value for one request.
func (g *BybitGateway) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(timestamp + g.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// post sends a signed JSON POST and unwraps the v5 envelope.
func (g *BybitGateway) post(ctx context.Context, path string, body map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var env bybitEnvelope
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", g.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", ts).
		SetHeader("X-BAPI-RECV-WINDOW", bybitRecvWindow).
		SetHeader("X-BAPI-SIGN", g.sign(ts, string(raw))).
		SetHeader("Content-Type", "application/json").
		SetBody(raw).
		SetResult(&env).
		Post(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("bybit %s: HTTP %d", path, resp.StatusCode())
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit %s: retCode %d: %s", path, env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

// get sends a signed GET with a query string and unwraps the envelope.
func (g *BybitGateway) get(ctx context.Context, path, query string) (json.RawMessage, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var env bybitEnvelope
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", g.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", ts).
		SetHeader("X-BAPI-RECV-WINDOW", bybitRecvWindow).
		SetHeader("X-BAPI-SIGN", g.sign(ts, query)).
		SetQueryString(query).
		SetResult(&env).
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("bybit %s: HTTP %d", path, resp.StatusCode())
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit %s: retCode %d: %s", path, env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

// PlaceOrder implements Gateway.
func (g *BybitGateway) PlaceOrder(ctx context.Context, order *models.Order) error {
	body := map[string]any{
		"category":    "spot",
		"symbol":      connector.ToBybit(order.Symbol),
		"side":        bybitSide(order.Side),
		"orderLinkId": order.ClientOrderID,
		"qty":         order.Quantity.String(),
	}
	switch order.Type {
	case models.OrderTypeMarket:
		body["orderType"] = "Market"
		// spot market buys are quoted in quote ccy unless told otherwise
		body["marketUnit"] = "baseCoin"
	case models.OrderTypeIOC:
		body["orderType"] = "Limit"
		body["timeInForce"] = "IOC"
		body["price"] = order.Price.String()
	default:
		body["orderType"] = "Limit"
		body["timeInForce"] = "GTC"
		body["price"] = order.Price.String()
	}

	_, err := g.breaker.Execute(func() (any, error) {
		result, err := g.post(ctx, "/v5/order/create", body)
		if err != nil {
			return nil, err
		}
		var res struct {
			OrderID string `json:"orderId"`
		}
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, err
		}
		order.ExchangeOrderID = res.OrderID
		return nil, nil
	})
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues("bybit", metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("bybit place %s %s: %w", order.Side, order.Symbol, err)
	}
	return nil
}

// CancelOrder implements Gateway.
func (g *BybitGateway) CancelOrder(ctx context.Context, order *models.Order) error {
	body := map[string]any{
		"category":    "spot",
		"symbol":      connector.ToBybit(order.Symbol),
		"orderLinkId": order.ClientOrderID,
	}
	_, err := g.breaker.Execute(func() (any, error) {
		_, err := g.post(ctx, "/v5/order/cancel", body)
		return nil, err
	})
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues("bybit", metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("bybit cancel %s: %w", order.ClientOrderID, err)
	}
	return nil
}

// FetchOrder implements Gateway.
func (g *BybitGateway) FetchOrder(ctx context.Context, order *models.Order) error {
	query := "category=spot&symbol=" + connector.ToBybit(order.Symbol) +
		"&orderLinkId=" + order.ClientOrderID
	_, err := g.breaker.Execute(func() (any, error) {
		result, err := g.get(ctx, "/v5/order/realtime", query)
		if err != nil {
			return nil, err
		}
		var res struct {
			List []struct {
				OrderStatus string `json:"orderStatus"`
				CumExecQty  string `json:"cumExecQty"`
				AvgPrice    string `json:"avgPrice"`
				CumExecFee  string `json:"cumExecFee"`
			} `json:"list"`
		}
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, err
		}
		if len(res.List) == 0 {
			return nil, fmt.Errorf("order %s not found", order.ClientOrderID)
		}
		o := res.List[0]
		if filled, ferr := decimal.NewFromString(o.CumExecQty); ferr == nil {
			order.FilledQuantity = filled
		}
		if avg, aerr := decimal.NewFromString(o.AvgPrice); aerr == nil && !avg.IsZero() {
			order.AvgFillPrice = avg
		}
		if fee, ferr := decimal.NewFromString(o.CumExecFee); ferr == nil {
			order.FeePaid = fee
		}
		order.Status = bybitStatus(o.OrderStatus)
		return nil, nil
	})
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues("bybit", metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("bybit fetch %s: %w", order.ClientOrderID, err)
	}
	return nil
}

func bybitSide(side models.OrderSide) string {
	if side == models.OrderSideBuy {
		return "Buy"
	}
	return "Sell"
}

func bybitStatus(s string) models.OrderStatus {
	switch s {
	case "Filled":
		return models.OrderStatusFilled
	case "PartiallyFilled":
		return models.OrderStatusPartiallyFilled
	case "Cancelled", "PartiallyFilledCanceled":
		return models.OrderStatusCanceled
	case "Rejected":
		return models.OrderStatusRejected
	case "Deactivated":
		return models.OrderStatusExpired
	default:
		return models.OrderStatusNew
	}
}
