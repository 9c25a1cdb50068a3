package handler

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
	"github.com/zcoinlabs/zmarket/internal/core/service"
	"github.com/zcoinlabs/zmarket/internal/core/token"
	"github.com/zcoinlabs/zmarket/internal/port"
)

const (
	actorHeader   = "X-Market-Actor"
	requestHeader = "X-Request-Id"
)

// HTTPHandler exposes the settlement engine over JSON. The engine is
// identity-agnostic; the transport supplies the acting address through the
// X-Market-Actor header.
type HTTPHandler struct {
	market *service.Market
	cache  port.SnapshotCache // nil disables request de-duplication
	logger *zap.Logger
}

func NewHTTPHandler(market *service.Market, cache port.SnapshotCache, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{market: market, cache: cache, logger: logger}
}

// Register mounts all marketplace routes.
func (h *HTTPHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	r.HandleFunc("/api/items/mint", h.MintItem).Methods(http.MethodPost)
	r.HandleFunc("/api/items", h.ListItem).Methods(http.MethodPost)
	r.HandleFunc("/api/items/{id:[0-9]+}", h.GetItem).Methods(http.MethodGet)
	r.HandleFunc("/api/items/{id:[0-9]+}/buy", h.BuyItem).Methods(http.MethodPost)
	r.HandleFunc("/api/items/{id:[0-9]+}/cancel", h.CancelItem).Methods(http.MethodPost)

	r.HandleFunc("/api/lots", h.ListLot).Methods(http.MethodPost)
	r.HandleFunc("/api/lots/{id:[0-9]+}", h.GetLot).Methods(http.MethodGet)
	r.HandleFunc("/api/lots/{id:[0-9]+}/bids", h.MakeBid).Methods(http.MethodPost)
	r.HandleFunc("/api/lots/{id:[0-9]+}/finish", h.FinishAuction).Methods(http.MethodPost)
}

type assetRefJSON struct {
	Kind    string `json:"kind"`
	TokenID uint64 `json:"token_id,omitempty"`
	ID      uint64 `json:"id,omitempty"`
	Amount  uint64 `json:"amount,omitempty"`
}

type mintRequest struct {
	Kind   string `json:"kind"`
	ID     uint64 `json:"id,omitempty"`
	Amount uint64 `json:"amount,omitempty"`
}

type listItemRequest struct {
	Asset assetRefJSON `json:"asset"`
	Price string       `json:"price"`
}

type listLotRequest struct {
	Asset assetRefJSON `json:"asset"`
}

type bidRequest struct {
	Amount string `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) MintItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.prepare(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ref, err := h.market.CreateItem(r.Context(), actor, kind, req.ID, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]assetRefJSON{"asset_ref": toAssetJSON(ref)})
}

func (h *HTTPHandler) ListItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.prepare(w, r)
	if !ok {
		return
	}
	var req listItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	ref, err := fromAssetJSON(req.Asset)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	price, err := parseBigAmount(req.Price)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	itemID, err := h.market.ListItem(r.Context(), actor, ref, price)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"item_id": itemID})
}

func (h *HTTPHandler) BuyItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.prepare(w, r)
	if !ok {
		return
	}
	if err := h.market.BuyItem(r.Context(), actor, pathID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) CancelItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.prepare(w, r)
	if !ok {
		return
	}
	if err := h.market.Cancel(r.Context(), actor, pathID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.market.GetItem(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemJSON(item))
}

func (h *HTTPHandler) ListLot(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.prepare(w, r)
	if !ok {
		return
	}
	var req listLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	ref, err := fromAssetJSON(req.Asset)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	lotID, err := h.market.ListItemOnAuction(r.Context(), actor, ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"lot_id": lotID})
}

func (h *HTTPHandler) MakeBid(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.prepare(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	amount, err := parseBigAmount(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := h.market.MakeBid(r.Context(), actor, pathID(r), amount); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) FinishAuction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.prepare(w, r)
	if !ok {
		return
	}
	if err := h.market.FinishAuction(r.Context(), actor, pathID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) GetLot(w http.ResponseWriter, r *http.Request) {
	lot, err := h.market.GetLot(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLotJSON(lot))
}

// prepare resolves the acting address and applies request de-duplication.
func (h *HTTPHandler) prepare(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.Header.Get(actorHeader)
	if !common.IsHexAddress(raw) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing or malformed " + actorHeader + " header"})
		return common.Address{}, false
	}
	if reqID := r.Header.Get(requestHeader); reqID != "" && h.cache != nil {
		fresh, err := h.cache.SetIdempotency(r.Context(), "req:"+reqID)
		if err != nil {
			h.logger.Warn("idempotency check failed", zap.Error(err))
		} else if !fresh {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "duplicate request"})
			return common.Address{}, false
		}
	}
	return common.HexToAddress(raw), true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps the engine's failure taxonomy onto HTTP so callers can
// decide whether to retry or abandon.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotOwner),
		errors.Is(err, token.ErrNotOwner),
		errors.Is(err, token.ErrWrongOwner),
		errors.Is(err, token.ErrNotApproved),
		errors.Is(err, token.ErrNotMinter):
		return http.StatusForbidden
	case errors.Is(err, service.ErrItemNotActive),
		errors.Is(err, service.ErrAuctionNotActive):
		return http.StatusConflict
	case errors.Is(err, service.ErrAuctionInProgress):
		return http.StatusTooEarly
	case errors.Is(err, service.ErrBidTooLow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrUnknownItem),
		errors.Is(err, service.ErrUnknownLot):
		return http.StatusNotFound
	case errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrUnsupportedAssetKind),
		errors.Is(err, service.ErrNegativePrice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request) uint64 {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id
}

func parseKind(s string) (domain.AssetKind, error) {
	switch s {
	case "unique":
		return domain.AssetUnique, nil
	case "quantity":
		return domain.AssetQuantity, nil
	default:
		return 0, errors.New("asset kind must be \"unique\" or \"quantity\"")
	}
}

func parseBigAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.New("amount must be a non-negative decimal string")
	}
	return v, nil
}

func toAssetJSON(ref domain.AssetRef) assetRefJSON {
	return assetRefJSON{
		Kind:    ref.Kind.String(),
		TokenID: ref.TokenID,
		ID:      ref.ID,
		Amount:  ref.Amount,
	}
}

func fromAssetJSON(j assetRefJSON) (domain.AssetRef, error) {
	kind, err := parseKind(j.Kind)
	if err != nil {
		return domain.AssetRef{}, err
	}
	if kind == domain.AssetQuantity {
		return domain.QuantityRef(j.ID, j.Amount), nil
	}
	return domain.UniqueRef(j.TokenID), nil
}

type itemJSON struct {
	ID        uint64       `json:"id"`
	Asset     assetRefJSON `json:"asset"`
	Price     string       `json:"price"`
	Seller    string       `json:"seller"`
	State     string       `json:"state"`
	CreatedAt int64        `json:"created_at"`
}

type lotJSON struct {
	ID            uint64       `json:"id"`
	Asset         assetRefJSON `json:"asset"`
	Seller        string       `json:"seller"`
	Deadline      int64        `json:"deadline"`
	LastBidder    string       `json:"last_bidder,omitempty"`
	LastBidAmount string       `json:"last_bid_amount"`
	BidsCount     uint32       `json:"bids_count"`
	State         string       `json:"state"`
	CreatedAt     int64        `json:"created_at"`
}

func toItemJSON(item *domain.Item) itemJSON {
	return itemJSON{
		ID:        item.ID,
		Asset:     toAssetJSON(item.Asset),
		Price:     item.Price.String(),
		Seller:    item.Seller.Hex(),
		State:     item.State.String(),
		CreatedAt: item.CreatedAt,
	}
}

func toLotJSON(lot *domain.Lot) lotJSON {
	j := lotJSON{
		ID:            lot.ID,
		Asset:         toAssetJSON(lot.Asset),
		Seller:        lot.Seller.Hex(),
		Deadline:      lot.Deadline,
		LastBidAmount: lot.LastBidAmount.String(),
		BidsCount:     lot.BidsCount,
		State:         lot.State.String(),
		CreatedAt:     lot.CreatedAt,
	}
	if lot.BidsCount > 0 {
		j.LastBidder = lot.LastBidder.Hex()
	}
	return j
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
