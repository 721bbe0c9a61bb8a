package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"perp_bot/internal/models"

	"github.com/bytedance/sonic"
)

const (
	bybitMainnet   = "https://api.bybit.com"
	bybitTestnet   = "https://api-testnet.bybit.com"
	recvWindowMs   = "5000"
	requestTimeout = 10 * time.Second
)

// Client is the live Bybit v5 adapter. Requests are signed per call; the
// http client carries a hard timeout so a hung venue call cannot block the
// tick loop forever.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
}

func NewClient(testnet bool) *Client {
	base := bybitMainnet
	if testnet {
		base = bybitTestnet
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: base,
	}
}

func (c *Client) SetCreds(key, secret string) { c.apiKey, c.apiSecret = key, secret }

func (c *Client) sign(ts, payload string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + c.apiKey + recvWindowMs + payload))
	return hex.EncodeToString(h.Sum(nil))
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) do(ctx context.Context, method, path, query, body string) (*envelope, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	payload := body
	if method == http.MethodGet {
		payload = query
	}

	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}

	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("bybit request: %w", err)
	}
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-SIGN", c.sign(ts, payload))
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindowMs)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bybit do: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("bybit http %d: %s", resp.StatusCode, string(data))
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bybit decode: %w; body=%s", err, string(data))
	}
	return &env, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	// Reduce-only closes trade against the held side.
	tradeSide := req.Side
	if req.ReduceOnly {
		tradeSide = tradeSide.Opposite()
	}
	side := "Buy"
	if tradeSide == models.SideShort {
		side = "Sell"
	}

	body := map[string]any{
		"category":    "linear",
		"symbol":      req.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         req.Qty,
		"reduceOnly":  req.ReduceOnly,
		"positionIdx": req.PositionIndex,
	}
	payload, err := sonic.Marshal(body)
	if err != nil {
		return OrderResult{}, fmt.Errorf("PlaceMarketOrder marshal: %w", err)
	}

	env, err := c.do(ctx, http.MethodPost, "/v5/order/create", "", string(payload))
	if err != nil {
		return OrderResult{}, err
	}
	if env.RetCode != 0 {
		return OrderResult{
			OK:   false,
			Code: strconv.Itoa(env.RetCode),
			Msg:  env.RetMsg,
		}, nil
	}

	var res struct {
		OrderID string `json:"orderId"`
	}
	if err := sonic.Unmarshal(env.Result, &res); err != nil {
		return OrderResult{}, fmt.Errorf("PlaceMarketOrder decode result: %w", err)
	}
	return OrderResult{OK: true, OrderID: res.OrderID}, nil
}

func (c *Client) ActivePositions(ctx context.Context, symbol, account string) ([]PositionInfo, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	env, err := c.do(ctx, http.MethodGet, "/v5/position/list", q.Encode(), "")
	if err != nil {
		return nil, err
	}
	if env.RetCode != 0 {
		return nil, &APIError{Code: strconv.Itoa(env.RetCode), Msg: env.RetMsg}
	}

	var res struct {
		List []struct {
			Side        string `json:"side"`
			Size        string `json:"size"`
			AvgPrice    string `json:"avgPrice"`
			Leverage    string `json:"leverage"`
			PositionIdx int    `json:"positionIdx"`
		} `json:"list"`
	}
	if err := sonic.Unmarshal(env.Result, &res); err != nil {
		return nil, fmt.Errorf("ActivePositions decode: %w", err)
	}

	out := make([]PositionInfo, 0, len(res.List))
	for _, p := range res.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size <= 0 {
			continue
		}
		avg, _ := strconv.ParseFloat(p.AvgPrice, 64)
		lev, _ := strconv.Atoi(p.Leverage)
		side := models.SideLong
		if p.Side == "Sell" {
			side = models.SideShort
		}
		out = append(out, PositionInfo{
			Side:          side,
			Size:          size,
			AvgPrice:      avg,
			Leverage:      lev,
			PositionIndex: p.PositionIdx,
		})
	}
	return out, nil
}

func (c *Client) ExecutionHistory(ctx context.Context, orderID string) ([]Execution, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("orderId", orderID)

	env, err := c.do(ctx, http.MethodGet, "/v5/execution/list", q.Encode(), "")
	if err != nil {
		return nil, err
	}
	if env.RetCode != 0 {
		return nil, &APIError{Code: strconv.Itoa(env.RetCode), Msg: env.RetMsg}
	}

	var res struct {
		List []struct {
			ExecQty   string `json:"execQty"`
			ExecPrice string `json:"execPrice"`
		} `json:"list"`
	}
	if err := sonic.Unmarshal(env.Result, &res); err != nil {
		return nil, fmt.Errorf("ExecutionHistory decode: %w", err)
	}

	out := make([]Execution, 0, len(res.List))
	for _, e := range res.List {
		qty, _ := strconv.ParseFloat(e.ExecQty, 64)
		px, _ := strconv.ParseFloat(e.ExecPrice, 64)
		if qty > 0 && px > 0 {
			out = append(out, Execution{Qty: qty, Price: px})
		}
	}
	return out, nil
}

func (c *Client) WalletBalance(ctx context.Context, account string) (WalletBalance, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")

	env, err := c.do(ctx, http.MethodGet, "/v5/account/wallet-balance", q.Encode(), "")
	if err != nil {
		return WalletBalance{}, err
	}
	if env.RetCode != 0 {
		return WalletBalance{}, &APIError{Code: strconv.Itoa(env.RetCode), Msg: env.RetMsg}
	}

	var res struct {
		List []struct {
			TotalEquity         string `json:"totalEquity"`
			TotalAvailableFunds string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := sonic.Unmarshal(env.Result, &res); err != nil {
		return WalletBalance{}, fmt.Errorf("WalletBalance decode: %w", err)
	}
	if len(res.List) == 0 {
		return WalletBalance{}, &APIError{Code: "0", Msg: "empty wallet list"}
	}
	eq, _ := strconv.ParseFloat(res.List[0].TotalEquity, 64)
	av, _ := strconv.ParseFloat(res.List[0].TotalAvailableFunds, 64)
	return WalletBalance{Equity: eq, Available: av}, nil
}

func (c *Client) TransferFunds(ctx context.Context, amount float64, fromAccount, toAccount, coin string) error {
	body := map[string]any{
		"transferId":      fmt.Sprintf("%d", time.Now().UnixNano()),
		"coin":            coin,
		"amount":          strconv.FormatFloat(amount, 'f', 4, 64),
		"fromAccountType": fromAccount,
		"toAccountType":   toAccount,
	}
	payload, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("TransferFunds marshal: %w", err)
	}

	env, err := c.do(ctx, http.MethodPost, "/v5/asset/transfer/inter-transfer", "", string(payload))
	if err != nil {
		return err
	}
	if env.RetCode != 0 {
		return &APIError{Code: strconv.Itoa(env.RetCode), Msg: env.RetMsg}
	}
	return nil
}
