// Package priceoracle implements the NativePriceOracle external
// collaborator autopilot.Builder needs (spec.md §4.3 step 3), grounded
// on the teacher's services/txsubmitter/client.Client pattern
// (validated base URL, bounded response body, per-call deadline) the
// same way internal/competition.DriverClient is: this is just another
// outbound HTTP collaborator, fronted by internal/platform/pricecache
// so a recently-quoted token isn't re-fetched on every tick.
package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/batchauction/engine/internal/platform/httpclient"
	"github.com/batchauction/engine/internal/platform/pricecache"
)

// Oracle fetches a token's native-token spot price from a price feed
// service and caches the result.
type Oracle struct {
	baseURL    string
	httpClient *http.Client
	cache      *pricecache.Cache
}

// New validates baseURL and wraps it. cache may be nil, in which case
// every call hits the feed directly.
func New(baseURL string, requireHTTPS bool, httpClient *http.Client, cache *pricecache.Cache) (*Oracle, error) {
	validated, err := httpclient.ValidateBaseURL(baseURL, requireHTTPS)
	if err != nil {
		return nil, fmt.Errorf("price feed: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Oracle{baseURL: validated, httpClient: httpClient, cache: cache}, nil
}

type priceFeedResponse struct {
	PriceWei string `json:"price_wei"`
}

// NativePrice satisfies autopilot.NativePriceOracle. atBlock is not sent
// to the feed (spot price feeds quote "now", not a historical block);
// it is kept in the interface because some implementations, e.g. an
// on-chain DEX quoter, would need it.
func (o *Oracle) NativePrice(ctx context.Context, token common.Address, atBlock uint64) (*big.Int, bool) {
	if o.cache != nil {
		if price, ok := o.cache.Get(ctx, token); ok {
			return price, true
		}
	}

	url := fmt.Sprintf("%s/prices/%s", o.baseURL, token.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	body, err := httpclient.ReadAllStrict(resp.Body, httpclient.DefaultMaxBodyBytes)
	if err != nil {
		return nil, false
	}
	var parsed priceFeedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false
	}
	price, ok := new(big.Int).SetString(parsed.PriceWei, 10)
	if !ok || price.Sign() <= 0 {
		return nil, false
	}

	if o.cache != nil {
		o.cache.Put(ctx, token, price)
	}
	return price, true
}
