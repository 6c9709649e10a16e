package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
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

// OKXGateway routes spot orders through the OKX v5 REST API. Private
// requests carry a base64 HMAC-SHA256 of timestamp+method+path+body and
// the account passphrase header.
type OKXGateway struct {
	client     *resty.Client
	apiKey     string
	apiSecret  string
	passphrase string
	simulated  bool
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// NewOKXGateway builds a gateway with the configured credentials.
func NewOKXGateway(cfg config.ExchangeConfig, breaker *gobreaker.CircuitBreaker, log zerolog.Logger) *OKXGateway {
	base := cfg.RESTURL
	if base == "" {
		base = "https://www.okx.com"
	}
	return &OKXGateway{
		client:     resty.New().SetBaseURL(base).SetTimeout(10 * time.Second),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		passphrase: cfg.Passphrase,
		simulated:  cfg.Testnet,
		breaker:    breaker,
		log:        log.With().Str("component", "okx_gateway").Logger(),
	}
}

// Exchange implements Gateway.
func (g *OKXGateway) Exchange() string { return "okx" }

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (g *OKXGateway) sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// do sends one signed request and unwraps the v5 envelope. path must
// include the query string for GETs because it is part of the signature.
func (g *OKXGateway) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = string(raw)
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	req := g.client.R().
		SetContext(ctx).
		SetHeader("OK-ACCESS-KEY", g.apiKey).
		SetHeader("OK-ACCESS-SIGN", g.sign(ts, method, path, payload)).
		SetHeader("OK-ACCESS-TIMESTAMP", ts).
		SetHeader("OK-ACCESS-PASSPHRASE", g.passphrase).
		SetHeader("Content-Type", "application/json")
	if g.simulated {
		req = req.SetHeader("x-simulated-trading", "1")
	}

	var env okxEnvelope
	req = req.SetResult(&env)

	var resp *resty.Response
	var err error
	if method == "POST" {
		resp, err = req.SetBody(payload).Post(path)
	} else {
		resp, err = req.Get(path)
	}
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("okx %s: HTTP %d", path, resp.StatusCode())
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("okx %s: code %s: %s", path, env.Code, env.Msg)
	}
	return env.Data, nil
}

// PlaceOrder implements Gateway.
func (g *OKXGateway) PlaceOrder(ctx context.Context, order *models.Order) error {
	body := map[string]any{
		"instId":  connector.ToOKX(order.Symbol),
		"tdMode":  "cash",
		"side":    okxSide(order.Side),
		"clOrdId": okxClientID(order.ClientOrderID),
		"sz":      order.Quantity.String(),
	}
	switch order.Type {
	case models.OrderTypeMarket:
		body["ordType"] = "market"
		// size market orders in base ccy on both sides
		body["tgtCcy"] = "base_ccy"
	case models.OrderTypeIOC:
		body["ordType"] = "ioc"
		body["px"] = order.Price.String()
	default:
		body["ordType"] = "limit"
		body["px"] = order.Price.String()
	}

	_, err := g.breaker.Execute(func() (any, error) {
		data, err := g.do(ctx, "POST", "/api/v5/trade/order", body)
		if err != nil {
			return nil, err
		}
		var res []struct {
			OrdID string `json:"ordId"`
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		}
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, err
		}
		if len(res) == 0 {
			return nil, fmt.Errorf("empty order response")
		}
		if res[0].SCode != "0" {
			return nil, fmt.Errorf("order rejected: %s %s", res[0].SCode, res[0].SMsg)
		}
		order.ExchangeOrderID = res[0].OrdID
		return nil, nil
	})
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues("okx", metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("okx place %s %s: %w", order.Side, order.Symbol, err)
	}
	return nil
}

// CancelOrder implements Gateway.
func (g *OKXGateway) CancelOrder(ctx context.Context, order *models.Order) error {
	body := map[string]any{
		"instId":  connector.ToOKX(order.Symbol),
		"clOrdId": okxClientID(order.ClientOrderID),
	}
	_, err := g.breaker.Execute(func() (any, error) {
		_, err := g.do(ctx, "POST", "/api/v5/trade/cancel-order", body)
		return nil, err
	})
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues("okx", metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("okx cancel %s: %w", order.ClientOrderID, err)
	}
	return nil
}

// FetchOrder implements Gateway.
func (g *OKXGateway) FetchOrder(ctx context.Context, order *models.Order) error {
	path := "/api/v5/trade/order?instId=" + connector.ToOKX(order.Symbol) +
		"&clOrdId=" + okxClientID(order.ClientOrderID)
	_, err := g.breaker.Execute(func() (any, error) {
		data, err := g.do(ctx, "GET", path, nil)
		if err != nil {
			return nil, err
		}
		var res []struct {
			State   string `json:"state"`
			AccFill string `json:"accFillSz"`
			AvgPx   string `json:"avgPx"`
			Fee     string `json:"fee"`
			FeeCcy  string `json:"feeCcy"`
		}
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, err
		}
		if len(res) == 0 {
			return nil, fmt.Errorf("order %s not found", order.ClientOrderID)
		}
		o := res[0]
		if filled, ferr := decimal.NewFromString(o.AccFill); ferr == nil {
			order.FilledQuantity = filled
		}
		if avg, aerr := decimal.NewFromString(o.AvgPx); aerr == nil && !avg.IsZero() {
			order.AvgFillPrice = avg
		}
		// OKX reports fees as negative numbers
		if fee, ferr := decimal.NewFromString(o.Fee); ferr == nil {
			order.FeePaid = fee.Abs()
			order.FeeAsset = o.FeeCcy
		}
		order.Status = okxStatus(o.State)
		return nil, nil
	})
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues("okx", metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("okx fetch %s: %w", order.ClientOrderID, err)
	}
	return nil
}

func okxSide(side models.OrderSide) string {
	if side == models.OrderSideBuy {
		return "buy"
	}
	return "sell"
}

// okxClientID strips characters OKX does not allow in clOrdId.
func okxClientID(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out = append(out, c)
		}
	}
	return string(out)
}

func okxStatus(s string) models.OrderStatus {
	switch s {
	case "filled":
		return models.OrderStatusFilled
	case "partially_filled":
		return models.OrderStatusPartiallyFilled
	case "canceled", "mmp_canceled":
		return models.OrderStatusCanceled
	default:
		return models.OrderStatusNew
	}
}
