// Package orderbookapi implements the order-entry HTTP surface
// cmd/orderbook exposes, deliberately minimal per spec.md's Non-goal
// scoping out "an HTTP/JSON order-entry surface beyond the minimal stub
// needed to drive tests": put_order, cancel_order and get_order as
// plain REST endpoints over orderstore.Store, grounded on the same
// marble-style router as internal/driverapi (a *Router holding the
// store, handlers as its methods, gorilla/mux for path params).
package orderbookapi

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/batchauction/engine/internal/domain"
	"github.com/batchauction/engine/internal/orderstore"
	"github.com/batchauction/engine/internal/platform/httputil"
	"github.com/batchauction/engine/internal/platform/logging"
)

// Store is the slice of orderstore.Store this router drives.
type Store interface {
	PutOrder(ctx context.Context, order *domain.Order, nowUnix int64) *domain.Error
	CancelOrder(ctx context.Context, uid domain.OrderUID, cancelledBy common.Address, nowUnix int64) (orderstore.CancelResult, *domain.Error)
	GetOrder(ctx context.Context, uid domain.OrderUID) (*domain.Order, error)
}

// Router implements the order-entry HTTP surface as an http.Handler.
type Router struct {
	mux   *mux.Router
	store Store
}

// New builds a Router backed by store.
func New(store Store) *Router {
	r := &Router{store: store}
	m := mux.NewRouter()
	m.HandleFunc("/orders", r.handlePutOrder).Methods(http.MethodPost)
	m.HandleFunc("/orders/{uid}", r.handleGetOrder).Methods(http.MethodGet)
	m.HandleFunc("/orders/{uid}", r.handleCancelOrder).Methods(http.MethodDelete)
	r.mux = m
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	traceID := req.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = logging.NewTraceID()
	}
	w.Header().Set("X-Trace-Id", traceID)
	req = req.WithContext(logging.WithTraceID(req.Context(), traceID))
	r.mux.ServeHTTP(w, req)
}

// orderWire is the JSON shape of domain.Order exchanged with traders;
// amounts are decimal strings and the uid/tokens/signature are hex, the
// way internal/competition's wire types encode the same domain model
// for drivers.
type orderWire struct {
	UID               string `json:"uid,omitempty"`
	SellToken         string `json:"sell_token"`
	BuyToken          string `json:"buy_token"`
	SellAmount        string `json:"sell_amount"`
	BuyAmount         string `json:"buy_amount"`
	Side              string `json:"side"`
	ValidTo           uint32 `json:"valid_to"`
	AppData           string `json:"app_data"`
	FeeAmount         string `json:"fee_amount"`
	SigningScheme     string `json:"signing_scheme"`
	Signature         string `json:"signature"`
	Class             string `json:"class"`
	PartiallyFillable bool   `json:"partially_fillable"`
	SellTokenBalance  string `json:"sell_token_balance,omitempty"`
	BuyTokenBalance   string `json:"buy_token_balance,omitempty"`
	Receiver          string `json:"receiver,omitempty"`
	Owner             string `json:"owner,omitempty"`
	Status            string `json:"status,omitempty"`
}

func (r *Router) handlePutOrder(w http.ResponseWriter, req *http.Request) {
	var wire orderWire
	if !httputil.DecodeJSON(w, req, &wire) {
		return
	}

	order, err := decodeOrder(wire)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if derr := r.store.PutOrder(req.Context(), order, time.Now().Unix()); derr != nil {
		writeDomainError(w, derr)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"uid": order.UID.String()})
}

func (r *Router) handleGetOrder(w http.ResponseWriter, req *http.Request) {
	uid, err := domain.ParseOrderUID(mux.Vars(req)["uid"])
	if err != nil {
		httputil.BadRequest(w, "invalid order uid")
		return
	}

	order, err := r.store.GetOrder(req.Context(), uid)
	if err != nil {
		httputil.NotFound(w, "order not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, encodeOrder(order))
}

func (r *Router) handleCancelOrder(w http.ResponseWriter, req *http.Request) {
	uid, err := domain.ParseOrderUID(mux.Vars(req)["uid"])
	if err != nil {
		httputil.BadRequest(w, "invalid order uid")
		return
	}

	// This stub has no authentication surface (spec.md's Non-goal scopes
	// the order-entry HTTP API to the minimal shape needed to drive
	// tests), so the canceller is trusted to be the uid's own owner
	// rather than recovered from a signed request.
	result, derr := r.store.CancelOrder(req.Context(), uid, uid.Owner(), time.Now().Unix())
	if derr != nil {
		writeDomainError(w, derr)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"result": string(result)})
}

func writeDomainError(w http.ResponseWriter, derr *domain.Error) {
	status := http.StatusInternalServerError
	switch derr.Kind {
	case domain.KindMalformed, domain.KindBusinessRule:
		status = http.StatusBadRequest
	case domain.KindTransport:
		status = http.StatusBadGateway
	}
	httputil.WriteError(w, status, derr.Code, derr.Description)
}

func decodeOrder(w orderWire) (*domain.Order, error) {
	sellAmount, ok := new(big.Int).SetString(w.SellAmount, 10)
	if !ok {
		return nil, errInvalidAmount("sell_amount")
	}
	buyAmount, ok := new(big.Int).SetString(w.BuyAmount, 10)
	if !ok {
		return nil, errInvalidAmount("buy_amount")
	}
	feeAmount := big.NewInt(0)
	if w.FeeAmount != "" {
		feeAmount, ok = new(big.Int).SetString(w.FeeAmount, 10)
		if !ok {
			return nil, errInvalidAmount("fee_amount")
		}
	}

	var appData [32]byte
	copy(appData[:], common.FromHex(w.AppData))

	order := &domain.Order{
		SellToken:         common.HexToAddress(w.SellToken),
		BuyToken:          common.HexToAddress(w.BuyToken),
		SellAmount:        sellAmount,
		BuyAmount:         buyAmount,
		Side:              domain.OrderSide(w.Side),
		ValidTo:           w.ValidTo,
		AppData:           appData,
		FeeAmount:         feeAmount,
		SigningScheme:     domain.SigningScheme(w.SigningScheme),
		Signature:         common.FromHex(w.Signature),
		Class:             domain.OrderClass(w.Class),
		PartiallyFillable: w.PartiallyFillable,
		SellTokenBalance:  domain.SellTokenSource(w.SellTokenBalance),
		BuyTokenBalance:   domain.BuyTokenDestination(w.BuyTokenBalance),
		Owner:             common.HexToAddress(w.Owner),
		Executed:          big.NewInt(0),
	}
	if w.Receiver != "" {
		recv := common.HexToAddress(w.Receiver)
		order.Receiver = &recv
	}
	return order, nil
}

func encodeOrder(o *domain.Order) orderWire {
	wire := orderWire{
		UID:               o.UID.String(),
		SellToken:         o.SellToken.Hex(),
		BuyToken:          o.BuyToken.Hex(),
		SellAmount:        o.SellAmount.String(),
		BuyAmount:         o.BuyAmount.String(),
		Side:              string(o.Side),
		ValidTo:           o.ValidTo,
		AppData:           common.Bytes2Hex(o.AppData[:]),
		FeeAmount:         o.FeeAmount.String(),
		SigningScheme:     string(o.SigningScheme),
		Signature:         common.Bytes2Hex(o.Signature),
		Class:             string(o.Class),
		PartiallyFillable: o.PartiallyFillable,
		SellTokenBalance:  string(o.SellTokenBalance),
		BuyTokenBalance:   string(o.BuyTokenBalance),
		Owner:             o.Owner.Hex(),
		Status:            string(o.Status),
	}
	if o.Receiver != nil {
		wire.Receiver = o.Receiver.Hex()
	}
	return wire
}

type errInvalidAmount string

func (e errInvalidAmount) Error() string {
	return string(e) + " must be a base-10 integer"
}
