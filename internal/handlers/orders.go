package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/visionwholesale/api/internal/domain"
	"github.com/visionwholesale/api/internal/platform/httpx"
	"github.com/visionwholesale/api/internal/platform/identity"
	"github.com/visionwholesale/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

// OrderHandlers exposes the admin order lifecycle endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /admin/orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/stock-availability", h.stockAvailability)
	r.Post("/{orderID}:transition", h.transitionStatus)
	r.Post("/{orderID}:refund", h.applyRefund)
	r.Post("/{orderID}:cancel-refund", h.cancelRefund)
	r.Post("/{orderID}/items", h.mutateItem)
	r.Patch("/{orderID}/flags", h.updateFlags)
}

// RegisterStandaloneRoutes registers collection-level custom methods that live
// beside the /orders subtree rather than inside it.
func (h *OrderHandlers) RegisterStandaloneRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:bulk-status", h.bulkTransitionStatus)
}

// Request payloads ------------------------------------------------------------

type createOrderRequest struct {
	ClientRef        string             `json:"clientRef"`
	PaymentMethod    string             `json:"paymentMethod"`
	Items            []orderItemRequest `json:"items"`
	IsVisible        *bool              `json:"isVisible"`
	AllowViewInvoice *bool              `json:"allowViewInvoice"`
}

type orderItemRequest struct {
	ProductVariantID string  `json:"productVariantId"`
	ProductName      string  `json:"productName"`
	SKU              string  `json:"sku"`
	Quantity         int     `json:"qty"`
	CostUSD          float64 `json:"costUsd"`
	PriceUSD         float64 `json:"priceUsd"`
}

type transitionRequest struct {
	TargetStatus     string `json:"targetStatus"`
	Reason           string `json:"reason"`
	ExpectedRevision *int64 `json:"expectedRevision"`
}

type bulkStatusRequest struct {
	OrderIDs     []string `json:"orderIds"`
	TargetStatus string   `json:"targetStatus"`
	Reason       string   `json:"reason"`
}

type refundRequest struct {
	Type             string  `json:"type"`
	Amount           float64 `json:"amount"`
	Reason           string  `json:"reason"`
	MarkCompleted    bool    `json:"markCompleted"`
	ExpectedRevision *int64  `json:"expectedRevision"`
}

type cancelRefundRequest struct {
	Reason           string `json:"reason"`
	ExpectedRevision *int64 `json:"expectedRevision"`
}

type itemMutationRequest struct {
	Action           string            `json:"action"`
	ProductVariantID string            `json:"productVariantId"`
	Quantity         *int              `json:"qty"`
	Item             *orderItemRequest `json:"item"`
	PriceUSD         *float64          `json:"priceUsd"`
	CostUSD          *float64          `json:"costUsd"`
	SubTotal         *float64          `json:"subTotal"`
	MarginUSD        *float64          `json:"marginUsd"`
	ExpectedRevision *int64            `json:"expectedRevision"`
}

type updateFlagsRequest struct {
	IsVisible        *bool  `json:"isVisible"`
	AllowViewInvoice *bool  `json:"allowViewInvoice"`
	ExpectedRevision *int64 `json:"expectedRevision"`
}

// Handlers --------------------------------------------------------------------

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req createOrderRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			ProductVariantID: item.ProductVariantID,
			ProductName:      item.ProductName,
			SKU:              item.SKU,
			Quantity:         item.Quantity,
			CostUSD:          item.CostUSD,
			PriceUSD:         item.PriceUSD,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		ClientRef:        req.ClientRef,
		PaymentMethod:    services.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Items:            items,
		IsVisible:        req.IsVisible,
		AllowViewInvoice: req.AllowViewInvoice,
		ActorID:          identity.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		Status:    parseFilterValues(query["status"]),
		ClientRef: strings.TrimSpace(query.Get("client_ref")),
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.DateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.DateRange.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) stockAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	result, err := h.orders.CheckStockAvailability(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStockAvailabilityPayload(result))
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:          orderID,
		TargetStatus:     services.OrderStatus(strings.ToLower(strings.TrimSpace(req.TargetStatus))),
		ExpectedRevision: req.ExpectedRevision,
		Reason:           req.Reason,
		ActorID:          identity.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) bulkTransitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req bulkStatusRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	result, err := h.orders.BulkTransitionStatus(ctx, services.BulkStatusCommand{
		OrderIDs:     req.OrderIDs,
		TargetStatus: services.OrderStatus(strings.ToLower(strings.TrimSpace(req.TargetStatus))),
		Reason:       req.Reason,
		ActorID:      identity.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	failures := make([]bulkFailurePayload, 0, len(result.FailedUpdates))
	for _, failure := range result.FailedUpdates {
		failures = append(failures, bulkFailurePayload{
			OrderID: failure.OrderID,
			Error:   failure.Reason,
		})
	}
	writeJSONResponse(w, http.StatusOK, bulkStatusResponse{
		SuccessfulUpdates: append([]string{}, result.SuccessfulUpdates...),
		FailedUpdates:     failures,
		TotalRequested:    result.TotalRequested,
		TotalSuccessful:   result.SuccessCount,
		TotalFailed:       result.FailureCount,
	})
}

func (h *OrderHandlers) applyRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req refundRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	result, err := h.orders.ApplyRefund(ctx, services.ApplyRefundCommand{
		OrderID:          orderID,
		Type:             services.RefundType(strings.ToLower(strings.TrimSpace(req.Type))),
		Amount:           req.Amount,
		Reason:           req.Reason,
		MarkCompleted:    req.MarkCompleted,
		ExpectedRevision: req.ExpectedRevision,
		ActorID:          identity.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, refundResponse{
		Order: buildOrderPayload(result.Order),
		RefundDetails: refundDetailsPayload{
			OriginalSubTotal:              result.Details.OriginalSubTotal,
			RefundAmount:                  result.Details.RefundAmount,
			OriginalTotalAmount:           result.Details.OriginalTotalAmount,
			NewTotalAmount:                result.Details.NewTotalAmount,
			OriginalContributionMarginUSD: result.Details.OriginalContributionMarginUSD,
			NewContributionMarginUSD:      result.Details.NewContributionMarginUSD,
		},
	})
}

func (h *OrderHandlers) cancelRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req cancelRefundRequest
	if !decodeOptionalRequest(ctx, w, r, &req) {
		return
	}

	result, err := h.orders.CancelRefund(ctx, services.CancelRefundCommand{
		OrderID:          orderID,
		Reason:           req.Reason,
		ExpectedRevision: req.ExpectedRevision,
		ActorID:          identity.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cancelRefundResponse{
		Order: buildOrderPayload(result.Order),
		RefundCancellationDetails: refundCancellationPayload{
			CancelledRefundAmount:         result.Details.CancelledRefundAmount,
			RestoredSubTotal:              result.Details.RestoredSubTotal,
			RestoredTotalAmount:           result.Details.RestoredTotalAmount,
			RestoredContributionMarginUSD: result.Details.RestoredContributionMarginUSD,
			CogsUSD:                       result.Details.CogsUSD,
		},
	})
}

func (h *OrderHandlers) mutateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req itemMutationRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	cmd := services.ItemMutationCommand{
		OrderID:          orderID,
		Action:           services.ItemAction(strings.ToLower(strings.TrimSpace(req.Action))),
		ProductVariantID: req.ProductVariantID,
		Quantity:         req.Quantity,
		PriceUSD:         req.PriceUSD,
		CostUSD:          req.CostUSD,
		SubTotal:         req.SubTotal,
		MarginUSD:        req.MarginUSD,
		ExpectedRevision: req.ExpectedRevision,
		ActorID:          identity.ActorID(ctx),
	}
	if req.Item != nil {
		cmd.Item = &services.OrderItemInput{
			ProductVariantID: req.Item.ProductVariantID,
			ProductName:      req.Item.ProductName,
			SKU:              req.Item.SKU,
			Quantity:         req.Item.Quantity,
			CostUSD:          req.Item.CostUSD,
			PriceUSD:         req.Item.PriceUSD,
		}
	}

	order, err := h.orders.MutateItem(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateFlags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req updateFlagsRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.UpdateFlags(ctx, services.UpdateOrderFlagsCommand{
		OrderID:          orderID,
		IsVisible:        req.IsVisible,
		AllowViewInvoice: req.AllowViewInvoice,
		ExpectedRevision: req.ExpectedRevision,
		ActorID:          identity.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// Response payloads -----------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

type orderSummaryPayload struct {
	ID             string  `json:"id"`
	OrderNumber    string  `json:"orderNumber"`
	ClientRef      string  `json:"clientRef"`
	Status         string  `json:"status"`
	PaymentMethod  string  `json:"paymentMethod"`
	ItemsCount     int     `json:"itemsCount"`
	TotalAmount    float64 `json:"totalAmount"`
	TotalAmountARS float64 `json:"totalAmountArs"`
	CreatedAt      string  `json:"createdAt"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"orderNumber"`
	ClientRef         string             `json:"clientRef"`
	Status            string             `json:"status"`
	PaymentMethod     string             `json:"paymentMethod"`
	Items             []orderItemPayload `json:"items"`
	ItemsCount        int                `json:"itemsCount"`
	Financials        financialsPayload  `json:"financials"`
	ExchangeRate      float64            `json:"exchangeRate"`
	Refund            *refundPayload     `json:"refund,omitempty"`
	CancelledSnapshot *financialsPayload `json:"cancelledSnapshot,omitempty"`
	IsVisible         bool               `json:"isVisible"`
	AllowViewInvoice  bool               `json:"allowViewInvoice"`
	Revision          int64              `json:"revision"`
	CreatedAt         string             `json:"createdAt"`
	UpdatedAt         string             `json:"updatedAt"`
	UpdatedBy         string             `json:"updatedBy,omitempty"`
	CancelledAt       string             `json:"cancelledAt,omitempty"`
	CompletedAt       string             `json:"completedAt,omitempty"`
	RefundedAt        string             `json:"refundedAt,omitempty"`
}

type orderItemPayload struct {
	ProductVariantID      string  `json:"productVariantId"`
	ProductName           string  `json:"productName"`
	SKU                   string  `json:"sku"`
	Quantity              int     `json:"qty"`
	CostUSDAtPurchase     float64 `json:"costUsdAtPurchase"`
	PriceUSDAtPurchase    float64 `json:"priceUsdAtPurchase"`
	SubTotal              float64 `json:"subTotal"`
	CogsUSD               float64 `json:"cogsUsd"`
	ContributionMarginUSD float64 `json:"contributionMarginUsd"`
	ManualOverride        bool    `json:"manualOverride,omitempty"`
}

type financialsPayload struct {
	SubTotal                     float64  `json:"subTotal"`
	TotalCogsUSD                 float64  `json:"totalCogsUsd"`
	TotalContributionMarginUSD   float64  `json:"totalContributionMarginUsd"`
	ContributionMarginPercentage float64  `json:"contributionMarginPercentage"`
	BankTransferExpense          *float64 `json:"bankTransferExpense,omitempty"`
	TotalAmount                  float64  `json:"totalAmount"`
	TotalAmountARS               float64  `json:"totalAmountArs"`
}

type refundPayload struct {
	Type             string  `json:"type"`
	Amount           float64 `json:"amount"`
	AppliedAmount    float64 `json:"appliedAmount"`
	OriginalSubTotal float64 `json:"originalSubTotal"`
	Reason           string  `json:"reason,omitempty"`
	ProcessedBy      string  `json:"processedBy,omitempty"`
	ProcessedAt      string  `json:"processedAt"`
}

type bulkStatusResponse struct {
	SuccessfulUpdates []string             `json:"successfulUpdates"`
	FailedUpdates     []bulkFailurePayload `json:"failedUpdates"`
	TotalRequested    int                  `json:"totalRequested"`
	TotalSuccessful   int                  `json:"totalSuccessful"`
	TotalFailed       int                  `json:"totalFailed"`
}

type bulkFailurePayload struct {
	OrderID string `json:"orderId"`
	Error   string `json:"error"`
}

type stockAvailabilityResponse struct {
	HasConflicts bool                   `json:"hasConflicts"`
	Conflicts    []stockConflictPayload `json:"conflicts"`
}

type stockConflictPayload struct {
	ProductVariantID string `json:"productVariantId"`
	ProductName      string `json:"productName,omitempty"`
	SKU              string `json:"sku,omitempty"`
	RequiredQuantity int    `json:"requiredQuantity"`
	AvailableStock   int    `json:"availableStock"`
}

type refundResponse struct {
	Order         orderPayload         `json:"order"`
	RefundDetails refundDetailsPayload `json:"refundDetails"`
}

type refundDetailsPayload struct {
	OriginalSubTotal              float64 `json:"originalSubTotal"`
	RefundAmount                  float64 `json:"refundAmount"`
	OriginalTotalAmount           float64 `json:"originalTotalAmount"`
	NewTotalAmount                float64 `json:"newTotalAmount"`
	OriginalContributionMarginUSD float64 `json:"originalContributionMarginUsd"`
	NewContributionMarginUSD      float64 `json:"newContributionMarginUsd"`
}

type cancelRefundResponse struct {
	Order                     orderPayload              `json:"order"`
	RefundCancellationDetails refundCancellationPayload `json:"refundCancellationDetails"`
}

type refundCancellationPayload struct {
	CancelledRefundAmount         float64 `json:"cancelledRefundAmount"`
	RestoredSubTotal              float64 `json:"restoredSubTotal"`
	RestoredTotalAmount           float64 `json:"restoredTotalAmount"`
	RestoredContributionMarginUSD float64 `json:"restoredContributionMarginUsd"`
	CogsUSD                       float64 `json:"cogsUsd"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:             strings.TrimSpace(order.ID),
		OrderNumber:    strings.TrimSpace(order.OrderNumber),
		ClientRef:      strings.TrimSpace(order.ClientRef),
		Status:         string(order.Status),
		PaymentMethod:  string(order.PaymentMethod),
		ItemsCount:     order.ItemsCount,
		TotalAmount:    order.Financials.TotalAmount,
		TotalAmountARS: order.Financials.TotalAmountARS,
		CreatedAt:      formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductVariantID:      item.ProductVariantID,
			ProductName:           item.ProductName,
			SKU:                   item.SKU,
			Quantity:              item.Quantity,
			CostUSDAtPurchase:     item.CostUSDAtPurchase,
			PriceUSDAtPurchase:    item.PriceUSDAtPurchase,
			SubTotal:              item.SubTotal,
			CogsUSD:               item.CogsUSD,
			ContributionMarginUSD: item.ContributionMarginUSD,
			ManualOverride:        item.ManualOverride,
		})
	}

	payload := orderPayload{
		ID:               strings.TrimSpace(order.ID),
		OrderNumber:      strings.TrimSpace(order.OrderNumber),
		ClientRef:        strings.TrimSpace(order.ClientRef),
		Status:           string(order.Status),
		PaymentMethod:    string(order.PaymentMethod),
		Items:            items,
		ItemsCount:       order.ItemsCount,
		Financials:       buildFinancialsPayload(order.Financials),
		ExchangeRate:     order.ExchangeRate,
		IsVisible:        order.IsVisible,
		AllowViewInvoice: order.AllowViewInvoice,
		Revision:         order.Revision,
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
		CancelledAt:      formatTime(pointerTime(order.CancelledAt)),
		CompletedAt:      formatTime(pointerTime(order.CompletedAt)),
		RefundedAt:       formatTime(pointerTime(order.RefundedAt)),
	}
	if order.UpdatedBy != nil {
		payload.UpdatedBy = strings.TrimSpace(*order.UpdatedBy)
	}
	if order.Refund != nil {
		payload.Refund = &refundPayload{
			Type:             string(order.Refund.Type),
			Amount:           order.Refund.Amount,
			AppliedAmount:    order.Refund.AppliedAmount,
			OriginalSubTotal: order.Refund.OriginalSubTotal,
			Reason:           order.Refund.Reason,
			ProcessedBy:      order.Refund.ProcessedBy,
			ProcessedAt:      formatTime(order.Refund.ProcessedAt),
		}
	}
	if order.CancelledSnapshot != nil {
		snapshot := buildFinancialsPayload(*order.CancelledSnapshot)
		payload.CancelledSnapshot = &snapshot
	}
	return payload
}

func buildFinancialsPayload(f domain.FinancialSnapshot) financialsPayload {
	return financialsPayload{
		SubTotal:                     f.SubTotal,
		TotalCogsUSD:                 f.TotalCogsUSD,
		TotalContributionMarginUSD:   f.TotalContributionMarginUSD,
		ContributionMarginPercentage: f.ContributionMarginPercentage,
		BankTransferExpense:          f.BankTransferExpense,
		TotalAmount:                  f.TotalAmount,
		TotalAmountARS:               f.TotalAmountARS,
	}
}

func buildStockAvailabilityPayload(result services.StockAvailabilityResult) stockAvailabilityResponse {
	conflicts := make([]stockConflictPayload, 0, len(result.Conflicts))
	for _, conflict := range result.Conflicts {
		conflicts = append(conflicts, stockConflictPayload{
			ProductVariantID: conflict.ProductVariantID,
			ProductName:      conflict.ProductName,
			SKU:              conflict.SKU,
			RequiredQuantity: conflict.RequiredQuantity,
			AvailableStock:   conflict.AvailableStock,
		})
	}
	return stockAvailabilityResponse{
		HasConflicts: result.HasConflicts,
		Conflicts:    conflicts,
	}
}

// Error mapping ---------------------------------------------------------------

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.StockConflictError
	if errors.As(err, &stockErr) {
		conflicts := make([]map[string]any, 0, len(stockErr.Conflicts))
		for _, conflict := range stockErr.Conflicts {
			conflicts = append(conflicts, map[string]any{
				"productVariantId": conflict.ProductVariantID,
				"productName":      conflict.ProductName,
				"sku":              conflict.SKU,
				"requiredQuantity": conflict.RequiredQuantity,
				"availableStock":   conflict.AvailableStock,
			})
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_stock_conflict", "insufficient stock for one or more items", http.StatusConflict).
			WithDetails(map[string]any{"conflicts": conflicts}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderStockConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_stock_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRefundNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("refund_not_eligible", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrDependencyUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("dependency_unavailable", "an upstream dependency is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

func requireOrderID(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func decodeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

// decodeOptionalRequest accepts an absent body and leaves the target zeroed.
func decodeOptionalRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		case errors.Is(err, errEmptyBody):
			return true
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return false
		}
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}
