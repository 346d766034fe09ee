package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/visionwholesale/api/internal/domain"
	"github.com/visionwholesale/api/internal/platform/identity"
	"github.com/visionwholesale/api/internal/services"
)

// stubOrderService scripts each operation with a function field so individual
// tests only wire the calls they exercise.
type stubOrderService struct {
	createFn       func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	listFn         func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFn          func(ctx context.Context, orderID string) (services.Order, error)
	transitionFn   func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	bulkFn         func(ctx context.Context, cmd services.BulkStatusCommand) (services.BulkStatusResult, error)
	stockFn        func(ctx context.Context, orderID string) (services.StockAvailabilityResult, error)
	mutateFn       func(ctx context.Context, cmd services.ItemMutationCommand) (services.Order, error)
	refundFn       func(ctx context.Context, cmd services.ApplyRefundCommand) (services.RefundResult, error)
	cancelRefundFn func(ctx context.Context, cmd services.CancelRefundCommand) (services.RefundCancellationResult, error)
	flagsFn        func(ctx context.Context, cmd services.UpdateOrderFlagsCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	return s.getFn(ctx, orderID)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) BulkTransitionStatus(ctx context.Context, cmd services.BulkStatusCommand) (services.BulkStatusResult, error) {
	return s.bulkFn(ctx, cmd)
}

func (s *stubOrderService) CheckStockAvailability(ctx context.Context, orderID string) (services.StockAvailabilityResult, error) {
	return s.stockFn(ctx, orderID)
}

func (s *stubOrderService) MutateItem(ctx context.Context, cmd services.ItemMutationCommand) (services.Order, error) {
	return s.mutateFn(ctx, cmd)
}

func (s *stubOrderService) ApplyRefund(ctx context.Context, cmd services.ApplyRefundCommand) (services.RefundResult, error) {
	return s.refundFn(ctx, cmd)
}

func (s *stubOrderService) CancelRefund(ctx context.Context, cmd services.CancelRefundCommand) (services.RefundCancellationResult, error) {
	return s.cancelRefundFn(ctx, cmd)
}

func (s *stubOrderService) UpdateFlags(ctx context.Context, cmd services.UpdateOrderFlagsCommand) (services.Order, error) {
	return s.flagsFn(ctx, cmd)
}

func newOrderTestRouter(svc services.OrderService) http.Handler {
	h := NewOrderHandlers(svc)
	return NewRouter(
		WithAdminMiddlewares(identity.Middleware(identity.DefaultHeader)),
		WithAdminOrderRoutes(h.Routes),
		WithAdditionalRoutes(h.RegisterStandaloneRoutes),
	)
}

func sampleOrder() services.Order {
	fee := 0.8
	return services.Order{
		ID:            "ord_123",
		OrderNumber:   "VW-2025-000001",
		ClientRef:     "clients/acme-optics",
		Status:        domain.OrderStatusProcessing,
		PaymentMethod: domain.PaymentMethodBankTransfer,
		Items: []domain.OrderItem{
			{
				ProductVariantID:      "var_frame",
				ProductName:           "Aviator Frame",
				SKU:                   "FR-AV",
				Quantity:              2,
				CostUSDAtPurchase:     4,
				PriceUSDAtPurchase:    10,
				SubTotal:              20,
				CogsUSD:               8,
				ContributionMarginUSD: 12,
			},
		},
		ItemsCount: 2,
		Financials: domain.FinancialSnapshot{
			SubTotal:                     20,
			TotalCogsUSD:                 8,
			TotalContributionMarginUSD:   12,
			ContributionMarginPercentage: 60,
			BankTransferExpense:          &fee,
			TotalAmount:                  20.8,
			TotalAmountARS:               20800,
		},
		ExchangeRate:     1000,
		IsVisible:        true,
		AllowViewInvoice: true,
		Revision:         1,
		CreatedAt:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestCreateOrderEndpoint(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderTestRouter(svc)

	body := `{
		"clientRef": "clients/acme-optics",
		"paymentMethod": "Bank_Transfer",
		"items": [{"productVariantId": "var_frame", "productName": "Aviator Frame", "sku": "FR-AV", "qty": 2, "costUsd": 4, "priceUsd": 10}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders", strings.NewReader(body))
	req.Header.Set("X-Admin-Actor", "admin_maria")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.ActorID != "admin_maria" {
		t.Errorf("expected actor from header, got %q", captured.ActorID)
	}
	if captured.PaymentMethod != domain.PaymentMethodBankTransfer {
		t.Errorf("expected payment method normalised, got %q", captured.PaymentMethod)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 2 {
		t.Errorf("unexpected items: %+v", captured.Items)
	}

	payload := decodeBody(t, rec)
	order, ok := payload["order"].(map[string]any)
	if !ok {
		t.Fatalf("expected order envelope, got %v", payload)
	}
	if order["id"] != "ord_123" || order["orderNumber"] != "VW-2025-000001" {
		t.Errorf("unexpected order payload: %v", order)
	}
	financials, ok := order["financials"].(map[string]any)
	if !ok || financials["totalAmountArs"] != float64(20800) {
		t.Errorf("unexpected financials payload: %v", order["financials"])
	}
}

func TestCreateOrderEmptyBody(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(_ context.Context, _ services.CreateOrderCommand) (services.Order, error) {
			t.Fatal("service must not be called for an empty body")
			return services.Order{}, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders", strings.NewReader(""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != "invalid_request" {
		t.Errorf("unexpected error code: %v", payload["error"])
	}
}

func TestGetOrderNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(_ context.Context, _ string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders/ord_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != "order_not_found" {
		t.Errorf("unexpected error code: %v", payload["error"])
	}
}

func TestTransitionStatusEndpoint(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	svc := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusOnHold
			return order, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/ord_123:transition", strings.NewReader(`{"targetStatus": "ON_HOLD", "reason": "stock recount"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_123" {
		t.Errorf("expected order id from path, got %q", captured.OrderID)
	}
	if captured.TargetStatus != domain.OrderStatusOnHold {
		t.Errorf("expected target status normalised, got %q", captured.TargetStatus)
	}

	payload := decodeBody(t, rec)
	order := payload["order"].(map[string]any)
	if order["status"] != "on_hold" {
		t.Errorf("unexpected status in payload: %v", order["status"])
	}
}

func TestTransitionStatusInvalidStateMapsTo409(t *testing.T) {
	svc := &stubOrderService{
		transitionFn: func(_ context.Context, _ services.OrderStatusTransitionCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/ord_123:transition", strings.NewReader(`{"targetStatus": "completed"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != "order_invalid_state" {
		t.Errorf("unexpected error code: %v", payload["error"])
	}
}

func TestCreateOrderStockConflictDetails(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(_ context.Context, _ services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, &services.StockConflictError{
				Conflicts: []domain.StockConflictItem{
					{ProductVariantID: "var_frame", ProductName: "Aviator Frame", SKU: "FR-AV", RequiredQuantity: 5, AvailableStock: 2},
				},
			}
		},
	}
	router := newOrderTestRouter(svc)

	body := `{"clientRef": "clients/acme-optics", "paymentMethod": "cash", "items": [{"productVariantId": "var_frame", "qty": 5, "priceUsd": 10}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["error"] != "order_stock_conflict" {
		t.Errorf("unexpected error code: %v", payload["error"])
	}
	conflicts, ok := payload["conflicts"].([]any)
	if !ok || len(conflicts) != 1 {
		t.Fatalf("expected conflicts detail, got %v", payload["conflicts"])
	}
	conflict := conflicts[0].(map[string]any)
	if conflict["productVariantId"] != "var_frame" || conflict["availableStock"] != float64(2) {
		t.Errorf("unexpected conflict entry: %v", conflict)
	}
}

func TestApplyRefundNotEligibleMapsTo422(t *testing.T) {
	svc := &stubOrderService{
		refundFn: func(_ context.Context, _ services.ApplyRefundCommand) (services.RefundResult, error) {
			return services.RefundResult{}, services.ErrRefundNotEligible
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/ord_123:refund", strings.NewReader(`{"type": "fixed", "amount": 100}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != "refund_not_eligible" {
		t.Errorf("unexpected error code: %v", payload["error"])
	}
}

func TestApplyRefundEndpoint(t *testing.T) {
	svc := &stubOrderService{
		refundFn: func(_ context.Context, cmd services.ApplyRefundCommand) (services.RefundResult, error) {
			if cmd.Type != domain.RefundTypePercentage || cmd.Amount != 50 {
				t.Errorf("unexpected refund command: %+v", cmd)
			}
			return services.RefundResult{
				Order: sampleOrder(),
				Details: services.RefundDetails{
					OriginalSubTotal:              20,
					RefundAmount:                  10,
					OriginalTotalAmount:           20.8,
					NewTotalAmount:                10.8,
					OriginalContributionMarginUSD: 12,
					NewContributionMarginUSD:      2,
				},
			}, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/ord_123:refund", strings.NewReader(`{"type": "Percentage", "amount": 50}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	details, ok := payload["refundDetails"].(map[string]any)
	if !ok {
		t.Fatalf("expected refundDetails, got %v", payload)
	}
	if details["refundAmount"] != float64(10) || details["newTotalAmount"] != 10.8 {
		t.Errorf("unexpected refund details: %v", details)
	}
}

func TestCancelRefundAcceptsEmptyBody(t *testing.T) {
	svc := &stubOrderService{
		cancelRefundFn: func(_ context.Context, cmd services.CancelRefundCommand) (services.RefundCancellationResult, error) {
			if cmd.OrderID != "ord_123" || cmd.Reason != "" {
				t.Errorf("unexpected cancel command: %+v", cmd)
			}
			return services.RefundCancellationResult{
				Order: sampleOrder(),
				Details: services.RefundCancellationDetails{
					CancelledRefundAmount: 10,
					RestoredSubTotal:      20,
					RestoredTotalAmount:   20.8,
				},
			}, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/ord_123:cancel-refund", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	details, ok := payload["refundCancellationDetails"].(map[string]any)
	if !ok || details["cancelledRefundAmount"] != float64(10) {
		t.Errorf("unexpected cancellation details: %v", payload)
	}
}

func TestBulkStatusEndpoint(t *testing.T) {
	svc := &stubOrderService{
		bulkFn: func(_ context.Context, cmd services.BulkStatusCommand) (services.BulkStatusResult, error) {
			if len(cmd.OrderIDs) != 2 || cmd.TargetStatus != domain.OrderStatusOnHold {
				t.Errorf("unexpected bulk command: %+v", cmd)
			}
			return services.BulkStatusResult{
				SuccessfulUpdates: []string{"ord_1"},
				FailedUpdates:     []services.BulkStatusFailure{{OrderID: "ord_2", Reason: "invalid transition"}},
				TotalRequested:    2,
				SuccessCount:      1,
				FailureCount:      1,
			}, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders:bulk-status", strings.NewReader(`{"orderIds": ["ord_1", "ord_2"], "targetStatus": "on_hold"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["totalRequested"] != float64(2) || payload["totalSuccessful"] != float64(1) || payload["totalFailed"] != float64(1) {
		t.Errorf("unexpected counts: %v", payload)
	}
	failures, ok := payload["failedUpdates"].([]any)
	if !ok || len(failures) != 1 {
		t.Fatalf("expected one failure, got %v", payload["failedUpdates"])
	}
	failure := failures[0].(map[string]any)
	if failure["orderId"] != "ord_2" || failure["error"] != "invalid transition" {
		t.Errorf("unexpected failure entry: %v", failure)
	}
}

func TestStockAvailabilityEndpoint(t *testing.T) {
	svc := &stubOrderService{
		stockFn: func(_ context.Context, orderID string) (services.StockAvailabilityResult, error) {
			if orderID != "ord_123" {
				t.Errorf("unexpected order id: %q", orderID)
			}
			return services.StockAvailabilityResult{
				HasConflicts: true,
				Conflicts: []domain.StockConflictItem{
					{ProductVariantID: "var_frame", RequiredQuantity: 5, AvailableStock: 1},
				},
			}, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders/ord_123/stock-availability", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["hasConflicts"] != true {
		t.Errorf("expected hasConflicts true, got %v", payload)
	}
}

func TestListOrdersQueryParsing(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "tok_next",
			}, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders?status=processing,on_hold&client_ref=clients/acme-optics&page_size=500&page_token=tok_prev&created_after=2025-01-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(captured.Status) != 2 {
		t.Errorf("expected comma separated statuses split, got %v", captured.Status)
	}
	if captured.ClientRef != "clients/acme-optics" {
		t.Errorf("unexpected client ref: %q", captured.ClientRef)
	}
	if captured.Pagination.PageSize != maxOrderPageSize {
		t.Errorf("expected page size capped at %d, got %d", maxOrderPageSize, captured.Pagination.PageSize)
	}
	if captured.Pagination.PageToken != "tok_prev" {
		t.Errorf("unexpected page token: %q", captured.Pagination.PageToken)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected created_after filter: %v", captured.DateRange.From)
	}

	payload := decodeBody(t, rec)
	if payload["nextPageToken"] != "tok_next" {
		t.Errorf("expected next page token in response, got %v", payload)
	}
	items, ok := payload["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected one summary item, got %v", payload["items"])
	}
}

func TestListOrdersRejectsBadTimestamp(t *testing.T) {
	svc := &stubOrderService{
		listFn: func(_ context.Context, _ services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			t.Fatal("service must not be called for an invalid timestamp")
			return domain.CursorPage[services.Order]{}, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders?created_after=yesterday", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMutateItemEndpoint(t *testing.T) {
	var captured services.ItemMutationCommand
	svc := &stubOrderService{
		mutateFn: func(_ context.Context, cmd services.ItemMutationCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/ord_123/items", strings.NewReader(`{"action": "INCREASE", "productVariantId": "var_frame", "qty": 3, "expectedRevision": 1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Action != services.ItemActionIncrease {
		t.Errorf("expected action normalised, got %q", captured.Action)
	}
	if captured.Quantity == nil || *captured.Quantity != 3 {
		t.Errorf("unexpected quantity: %v", captured.Quantity)
	}
	if captured.ExpectedRevision == nil || *captured.ExpectedRevision != 1 {
		t.Errorf("unexpected expected revision: %v", captured.ExpectedRevision)
	}
}

func TestUpdateFlagsEndpoint(t *testing.T) {
	var captured services.UpdateOrderFlagsCommand
	svc := &stubOrderService{
		flagsFn: func(_ context.Context, cmd services.UpdateOrderFlagsCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.IsVisible = false
			return order, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/orders/ord_123/flags", strings.NewReader(`{"isVisible": false}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.IsVisible == nil || *captured.IsVisible {
		t.Errorf("expected isVisible false, got %v", captured.IsVisible)
	}
	if captured.AllowViewInvoice != nil {
		t.Errorf("expected allowViewInvoice untouched, got %v", captured.AllowViewInvoice)
	}

	payload := decodeBody(t, rec)
	order := payload["order"].(map[string]any)
	if order["isVisible"] != false {
		t.Errorf("expected isVisible false in payload, got %v", order["isVisible"])
	}
}
