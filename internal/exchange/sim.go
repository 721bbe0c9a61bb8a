package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"perp_bot/internal/models"
)

// Sim is the simulation adapter: every order fills instantly and fully at
// the quoted price, positions are tracked in an internal book, transfers
// are pure bookkeeping. It also backs the executor tests, so it supports
// scripted rejections.
type Sim struct {
	mu        sync.Mutex
	seq       int64
	positions map[models.Side]*PositionInfo
	execs     map[string][]Execution
	wallet    WalletBalance
	swept     float64

	// Scripted failures for the next matching call; cleared after use.
	NextOrderCode    string
	NextOrderMsg     string
	NextTransferCode string
	TransferFailures int // transient transfer errors before success
	DropExecHistory  bool
}

func NewSim(walletEquity float64) *Sim {
	return &Sim{
		positions: make(map[models.Side]*PositionInfo),
		execs:     make(map[string][]Execution),
		wallet:    WalletBalance{Equity: walletEquity, Available: walletEquity},
	}
}

func (s *Sim) PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.NextOrderCode != "" {
		code, msg := s.NextOrderCode, s.NextOrderMsg
		s.NextOrderCode, s.NextOrderMsg = "", ""
		return OrderResult{OK: false, Code: code, Msg: msg}, nil
	}

	qty, err := strconv.ParseFloat(req.Qty, 64)
	if err != nil || qty <= 0 {
		return OrderResult{OK: false, Code: "10001", Msg: "invalid qty"}, nil
	}

	s.seq++
	orderID := fmt.Sprintf("sim-%d", s.seq)
	s.execs[orderID] = []Execution{{Qty: qty, Price: req.Price}}

	book := s.positions[req.Side]
	if req.ReduceOnly {
		if book == nil || book.Size <= 0 {
			return OrderResult{OK: false, Code: codePositionNotFound, Msg: "position not found"}, nil
		}
		book.Size -= qty
		if book.Size <= 1e-12 {
			delete(s.positions, req.Side)
		}
		return OrderResult{OK: true, OrderID: orderID}, nil
	}

	if book == nil {
		book = &PositionInfo{Side: req.Side, PositionIndex: req.PositionIndex}
		s.positions[req.Side] = book
	}
	newSize := book.Size + qty
	book.AvgPrice = (book.AvgPrice*book.Size + req.Price*qty) / newSize
	book.Size = newSize
	return OrderResult{OK: true, OrderID: orderID}, nil
}

func (s *Sim) ActivePositions(ctx context.Context, symbol, account string) ([]PositionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PositionInfo, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (s *Sim) ExecutionHistory(ctx context.Context, orderID string) ([]Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DropExecHistory {
		return nil, nil
	}
	return s.execs[orderID], nil
}

func (s *Sim) WalletBalance(ctx context.Context, account string) (WalletBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet, nil
}

func (s *Sim) TransferFunds(ctx context.Context, amount float64, fromAccount, toAccount, coin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.NextTransferCode != "" {
		code := s.NextTransferCode
		s.NextTransferCode = ""
		return &APIError{Code: code, Msg: "scripted transfer failure"}
	}
	if s.TransferFailures > 0 {
		s.TransferFailures--
		return &APIError{Code: codeServiceUnavailable, Msg: "transient"}
	}

	if amount > s.wallet.Available {
		return &APIError{Code: codeTransferInsufficient, Msg: "insufficient balance"}
	}
	s.wallet.Available -= amount
	s.wallet.Equity -= amount
	s.swept += amount
	return nil
}

// Swept returns the total transferred out, for assertions.
func (s *Sim) Swept() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swept
}

// SetWallet overrides the wallet state.
func (s *Sim) SetWallet(equity, available float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallet = WalletBalance{Equity: equity, Available: available}
}
