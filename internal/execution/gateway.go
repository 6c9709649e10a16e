package execution

import (
	"context"

	"github.com/arbot-io/arbot/internal/models"
)

// Gateway places and tracks real orders on one exchange. PlaceOrder
// submits the order and returns immediately with the exchange order id
// set; FetchOrder refreshes fill state until the order is terminal.
type Gateway interface {
	Exchange() string
	PlaceOrder(ctx context.Context, order *models.Order) error
	CancelOrder(ctx context.Context, order *models.Order) error
	FetchOrder(ctx context.Context, order *models.Order) error
}
