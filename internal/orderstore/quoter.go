package orderstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/batchauction/engine/internal/domain"
	"github.com/batchauction/engine/internal/platform/httpclient"
)

// quoteTTL is how long a freshly fetched quote remains usable for
// PriceImprovement fee computation before Quoter refreshes it again.
const quoteTTL = 5 * time.Minute

// PriceEstimationDriver is one entry from --price-estimation-drivers:
// a driver asked for a best-effort price without running a full
// auction, the way cmd/orderbook asks for /quote per SPEC_FULL.md's
// quoter module.
type PriceEstimationDriver struct {
	Name    string
	baseURL string
}

// NewPriceEstimationDriver validates baseURL.
func NewPriceEstimationDriver(name, baseURL string) (PriceEstimationDriver, error) {
	validated, err := httpclient.ValidateBaseURL(baseURL, false)
	if err != nil {
		return PriceEstimationDriver{}, fmt.Errorf("price estimation driver %s: %w", name, err)
	}
	return PriceEstimationDriver{Name: name, baseURL: validated}, nil
}

type quoteRequestWire struct {
	SellToken string `json:"sell_token"`
	BuyToken  string `json:"buy_token"`
	Side      string `json:"side"`
	Amount    string `json:"amount"`
}

type quoteResponseWire struct {
	SellAmount string `json:"sell_amount,omitempty"`
	BuyAmount  string `json:"buy_amount,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Quoter refreshes the attached Quote on Limit-class orders once it has
// expired, grounded on SPEC_FULL.md's mapping of
// crates/autopilot/src/limit_orders/quoter.rs onto this module: it asks
// every configured price-estimation driver for a /quote and keeps the
// best (highest buy amount for a sell order, lowest sell amount for a
// buy order).
type Quoter struct {
	drivers    []PriceEstimationDriver
	httpClient *http.Client
	log        *logrus.Entry
}

// NewQuoter builds a Quoter over drivers.
func NewQuoter(drivers []PriceEstimationDriver, httpClient *http.Client) *Quoter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Quoter{drivers: drivers, httpClient: httpClient, log: logrus.WithField("component", "quoter")}
}

// RefreshIfExpired returns a freshened quote for order when its current
// quote is nil or expired, otherwise the existing quote unchanged. order
// must be OrderClassLimit; other classes don't carry a requoting need
// per spec.md's PriceImprovement fee policy.
func (q *Quoter) RefreshIfExpired(ctx context.Context, order *domain.Order, current *domain.Quote, now time.Time) (*domain.Quote, error) {
	if order.Class != domain.OrderClassLimit {
		return current, nil
	}
	if current != nil && !current.Expired(now) {
		return current, nil
	}

	best := q.bestQuote(ctx, order)
	if best == nil {
		return current, fmt.Errorf("no price estimation driver returned a quote for order %s", order.UID)
	}
	best.OrderUID = order.UID
	best.ExpiresAt = now.Add(quoteTTL)
	return best, nil
}

func (q *Quoter) bestQuote(ctx context.Context, order *domain.Order) *domain.Quote {
	req := quoteRequestWire{
		SellToken: order.SellToken.Hex(),
		BuyToken:  order.BuyToken.Hex(),
		Side:      string(order.Side),
	}
	if order.Side == domain.OrderSideSell {
		req.Amount = order.SellAmount.String()
	} else {
		req.Amount = order.BuyAmount.String()
	}

	var best *domain.Quote
	for _, d := range q.drivers {
		resp, err := q.quoteFrom(ctx, d, req)
		if err != nil {
			q.log.WithError(err).WithField("driver", d.Name).Warn("price estimation driver call failed")
			continue
		}
		if resp.Error != "" {
			continue
		}
		sellAmount, ok1 := new(big.Int).SetString(resp.SellAmount, 10)
		buyAmount, ok2 := new(big.Int).SetString(resp.BuyAmount, 10)
		if !ok1 || !ok2 {
			continue
		}
		candidate := &domain.Quote{SellAmount: sellAmount, BuyAmount: buyAmount, Solver: d.Name}
		if best == nil || isBetterQuote(order.Side, candidate, best) {
			best = candidate
		}
	}
	return best
}

// isBetterQuote reports whether candidate is strictly better than
// incumbent: for a sell order the trader wants the most buyAmount per
// fixed sellAmount; for a buy order the least sellAmount per fixed
// buyAmount.
func isBetterQuote(side domain.OrderSide, candidate, incumbent *domain.Quote) bool {
	if side == domain.OrderSideSell {
		return candidate.BuyAmount.Cmp(incumbent.BuyAmount) > 0
	}
	return candidate.SellAmount.Cmp(incumbent.SellAmount) < 0
}

func (q *Quoter) quoteFrom(ctx context.Context, d PriceEstimationDriver, req quoteRequestWire) (*quoteResponseWire, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal quote request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/quote", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", d.Name, err)
	}
	defer resp.Body.Close()

	raw, err := httpclient.ReadAllStrict(resp.Body, httpclient.DefaultMaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", d.Name, err)
	}
	var parsed quoteResponseWire
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", d.Name, err)
	}
	return &parsed, nil
}
