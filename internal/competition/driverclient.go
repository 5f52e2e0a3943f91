package competition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/batchauction/engine/internal/domain"
	"github.com/batchauction/engine/internal/platform/httpclient"
)

// DriverClient dispatches one auction to one registered solver driver
// over HTTP, grounded on services/txsubmitter/client.Client: a validated
// base URL, a bounded response body, and an explicit per-call deadline
// rather than relying on the shared http.Client's own timeout.
type DriverClient struct {
	Name       string
	Solver     common.Address
	baseURL    string
	httpClient *http.Client
	maxBody    int64
}

// NewDriverClient validates baseURL and wraps it.
func NewDriverClient(name string, solver common.Address, baseURL string, requireHTTPS bool, httpClient *http.Client) (*DriverClient, error) {
	validated, err := httpclient.ValidateBaseURL(baseURL, requireHTTPS)
	if err != nil {
		return nil, fmt.Errorf("driver %s: %w", name, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &DriverClient{
		Name: name, Solver: solver, baseURL: validated,
		httpClient: httpClient, maxBody: httpclient.DefaultMaxBodyBytes,
	}, nil
}

// SolveRequest is the wire shape posted to a driver's /solve endpoint.
type SolveRequest struct {
	AuctionID int64             `json:"auction_id"`
	Deadline  time.Time         `json:"deadline"`
	Orders    []SolveOrder      `json:"orders"`
	Prices    map[string]string `json:"native_prices"`
}

// SolveOrder is the order shape a driver needs to propose a solution;
// only the fields a solver actually consumes are sent over the wire.
type SolveOrder struct {
	UID               string `json:"uid"`
	SellToken         string `json:"sell_token"`
	BuyToken          string `json:"buy_token"`
	SellAmount        string `json:"sell_amount"`
	BuyAmount         string `json:"buy_amount"`
	Side              string `json:"side"`
	PartiallyFillable bool   `json:"partially_fillable"`
}

// SolveResponse is the driver's reply: either a solution or a
// classified failure, per spec.md §4.4 step 2.
type SolveResponse struct {
	Solution *WireSolution `json:"solution,omitempty"`
	Error    string        `json:"error,omitempty"` // one of domain.DriverOutcomeKind
	TxHash   string        `json:"tx_hash,omitempty"` // set by /settle only
}

// WireSolution is the JSON shape of domain.Solution exchanged with
// drivers (big.Int fields are decimal strings, the way the teacher's
// txsubmitter client encodes amounts).
type WireSolution struct {
	ID             string            `json:"id"`
	ClearingPrices map[string]string `json:"clearing_prices"`
	Trades         []WireTrade       `json:"trades"`
	CallData       string            `json:"call_data"` // hex, includes selector + trailer
	Gas            *uint64           `json:"gas,omitempty"`
}

// WireTrade is one fulfilled order inside a WireSolution. OrderUID is
// empty for a just-in-time trade the solver created itself, in which
// case SellToken/BuyToken carry the trade's tokens directly since there
// is no orderbook order to look them up from.
type WireTrade struct {
	OrderUID       string `json:"order_uid,omitempty"`
	SellToken      string `json:"sell_token,omitempty"`
	BuyToken       string `json:"buy_token,omitempty"`
	Side           string `json:"side"`
	ExecutedAmount string `json:"executed_amount"`
}

// Solve posts req to the driver's /solve endpoint within deadline.
func (c *DriverClient) Solve(ctx context.Context, req SolveRequest, deadline time.Duration) (*SolveResponse, error) {
	return c.post(ctx, "/solve", req, deadline)
}

// Reveal asks the winning driver to reveal (disclose) its calldata ahead
// of settlement, per spec.md §4.4 step 5.
func (c *DriverClient) Reveal(ctx context.Context, solutionID string, deadline time.Duration) (*SolveResponse, error) {
	return c.post(ctx, "/reveal", map[string]string{"solution_id": solutionID}, deadline)
}

// Settle instructs the winning driver to sign and submit the settlement
// transaction.
func (c *DriverClient) Settle(ctx context.Context, solutionID string, deadline time.Duration) (*SolveResponse, error) {
	return c.post(ctx, "/settle", map[string]string{"solution_id": solutionID}, deadline)
}

func (c *DriverClient) post(ctx context.Context, path string, payload interface{}, deadline time.Duration) (*SolveResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal driver request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build driver request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("driver request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := httpclient.ReadAllStrict(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("read driver response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("driver %s returned %s: %s", c.Name, resp.Status, strings.TrimSpace(string(respBody)))
	}

	var result SolveResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode driver response: %w", err)
	}
	return &result, nil
}

// toSolveRequest projects an Auction into the wire request shape. orders
// is passed separately from a.Orders so a caller can hand each driver
// its own bad-subject-filtered order list (spec.md §4.7: bad-token
// status is per-solver, so two drivers in the same auction can see
// different order sets).
func toSolveRequest(a *domain.Auction, orders []*domain.Order) SolveRequest {
	req := SolveRequest{
		AuctionID: a.ID,
		Deadline:  a.Deadline,
		Prices:    make(map[string]string, len(a.Prices)),
	}
	for tok, p := range a.Prices {
		req.Prices[tok.Hex()] = p.String()
	}
	for _, o := range orders {
		req.Orders = append(req.Orders, SolveOrder{
			UID: o.UID.String(), SellToken: o.SellToken.Hex(), BuyToken: o.BuyToken.Hex(),
			SellAmount: o.SellAmount.String(), BuyAmount: o.BuyAmount.String(),
			Side: string(o.Side), PartiallyFillable: o.PartiallyFillable,
		})
	}
	return req
}
