package execution

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/connector"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

// BinanceGateway routes orders to Binance spot through its REST API.
type BinanceGateway struct {
	client  *binance.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewBinanceGateway builds a gateway with the configured credentials.
func NewBinanceGateway(cfg config.ExchangeConfig, breaker *gobreaker.CircuitBreaker, log zerolog.Logger) *BinanceGateway {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.RESTURL != "" {
		client.BaseURL = cfg.RESTURL
	}
	return &BinanceGateway{
		client:  client,
		breaker: breaker,
		log:     log.With().Str("component", "binance_gateway").Logger(),
	}
}

// Exchange implements Gateway.
func (g *BinanceGateway) Exchange() string { return "binance" }

// PlaceOrder implements Gateway.
func (g *BinanceGateway) PlaceOrder(ctx context.Context, order *models.Order) error {
	_, err := g.breaker.Execute(func() (any, error) {
		svc := g.client.NewCreateOrderService().
			Symbol(connector.ToBinance(order.Symbol)).
			Side(binance.SideType(order.Side)).
			Quantity(order.Quantity.String()).
			NewClientOrderID(order.ClientOrderID)

		switch order.Type {
		case models.OrderTypeMarket:
			svc = svc.Type(binance.OrderTypeMarket)
		case models.OrderTypeIOC:
			svc = svc.Type(binance.OrderTypeLimit).
				TimeInForce(binance.TimeInForceTypeIOC).
				Price(order.Price.String())
		default:
			svc = svc.Type(binance.OrderTypeLimit).
				TimeInForce(binance.TimeInForceTypeGTC).
				Price(order.Price.String())
		}

		res, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		order.ExchangeOrderID = fmt.Sprint(res.OrderID)
		applyBinanceStatus(order, res.Status, res.ExecutedQuantity, res.CummulativeQuoteQuantity)
		return nil, nil
	})
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues("binance", metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("binance place %s %s: %w", order.Side, order.Symbol, err)
	}
	return nil
}

// CancelOrder implements Gateway.
func (g *BinanceGateway) CancelOrder(ctx context.Context, order *models.Order) error {
	_, err := g.breaker.Execute(func() (any, error) {
		_, err := g.client.NewCancelOrderService().
			Symbol(connector.ToBinance(order.Symbol)).
			OrigClientOrderID(order.ClientOrderID).
			Do(ctx)
		return nil, err
	})
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues("binance", metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("binance cancel %s: %w", order.ClientOrderID, err)
	}
	return nil
}

// FetchOrder implements Gateway.
func (g *BinanceGateway) FetchOrder(ctx context.Context, order *models.Order) error {
	_, err := g.breaker.Execute(func() (any, error) {
		res, err := g.client.NewGetOrderService().
			Symbol(connector.ToBinance(order.Symbol)).
			OrigClientOrderID(order.ClientOrderID).
			Do(ctx)
		if err != nil {
			return nil, err
		}
		applyBinanceStatus(order, res.Status, res.ExecutedQuantity, res.CummulativeQuoteQuantity)
		return nil, nil
	})
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues("binance", metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("binance fetch %s: %w", order.ClientOrderID, err)
	}
	return nil
}

// applyBinanceStatus overwrites the order's fill totals from the
// exchange's authoritative cumulative figures.
func applyBinanceStatus(order *models.Order, status binance.OrderStatusType, executedQty, cumQuote string) {
	filled, err := decimal.NewFromString(executedQty)
	if err == nil {
		order.FilledQuantity = filled
		if quote, qerr := decimal.NewFromString(cumQuote); qerr == nil && filled.Sign() > 0 {
			order.AvgFillPrice = quote.Div(filled)
		}
	}

	switch status {
	case binance.OrderStatusTypeFilled:
		order.Status = models.OrderStatusFilled
	case binance.OrderStatusTypePartiallyFilled:
		order.Status = models.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeCanceled:
		order.Status = models.OrderStatusCanceled
	case binance.OrderStatusTypeRejected:
		order.Status = models.OrderStatusRejected
	case binance.OrderStatusTypeExpired:
		order.Status = models.OrderStatusExpired
	default:
		order.Status = models.OrderStatusNew
	}
}

