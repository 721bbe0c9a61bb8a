package exchange

import (
	"context"

	"perp_bot/internal/models"
)

// OrderRequest describes one market order. Qty is already formatted to the
// instrument's quantity step. Price is the quote at submission time: market
// orders on a live venue ignore it, the simulation fills at it.
type OrderRequest struct {
	Symbol        string
	Side          models.Side
	Qty           string
	Price         float64
	ReduceOnly    bool
	PositionIndex int
	Account       string
}

// OrderResult reports one submission. An exchange-side rejection comes back
// as OK=false with the venue's code/message attached; only transport and
// adapter faults surface as errors.
type OrderResult struct {
	OK      bool
	OrderID string
	Code    string
	Msg     string
}

// PositionInfo is one aggregated exchange position.
type PositionInfo struct {
	Side          models.Side
	Size          float64
	AvgPrice      float64
	Leverage      int
	PositionIndex int
}

// Execution is one fill of an order.
type Execution struct {
	Qty   float64
	Price float64
}

// WalletBalance is the account's margin wallet state.
type WalletBalance struct {
	Equity    float64
	Available float64
}

// Adapter is the exchange contract consumed by the executor. All calls are
// synchronous and honor ctx deadlines.
type Adapter interface {
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ActivePositions(ctx context.Context, symbol, account string) ([]PositionInfo, error)
	ExecutionHistory(ctx context.Context, orderID string) ([]Execution, error)
	WalletBalance(ctx context.Context, account string) (WalletBalance, error)
	TransferFunds(ctx context.Context, amount float64, fromAccount, toAccount, coin string) error
}
