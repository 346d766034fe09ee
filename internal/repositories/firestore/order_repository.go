package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/visionwholesale/api/internal/domain"
	pfirestore "github.com/visionwholesale/api/internal/platform/firestore"
	"github.com/visionwholesale/api/internal/repositories"
)

const (
	ordersCollection     = "orders"
	defaultOrderPageSize = 50
	maxOrderPageSize     = 200
)

// OrderRepository implements repositories.OrderRepository backed by Firestore.
// Reads and writes route through a transaction stored on the context when one
// is present, so service-level units of work stay atomic.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert stores a new order at revision 1. Inserting an existing id fails with
// a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	doc := newOrderDocument(order)
	doc.Revision = 1

	err := r.provider.RunInTx(ctx, func(txCtx context.Context) error {
		ref, err := r.orders.DocumentRef(txCtx, id)
		if err != nil {
			return err
		}
		tx, ok := pfirestore.TxFromContext(txCtx)
		if !ok {
			return errors.New("order repository: transaction missing from context")
		}
		return tx.Create(ref, doc)
	})
	return pfirestore.WrapError("firestore.orders.insert", err)
}

// Update persists the order and bumps its revision. Outside a transaction the
// stored revision is compared first and a mismatch fails with a conflict.
// Inside a caller's transaction the prior read of the document already pins its
// state, so the write goes through without a second read; Firestore aborts the
// transaction if the document moved underneath it.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc := newOrderDocument(order)
	doc.Revision = order.Revision + 1

	inTx := false
	if _, ok := pfirestore.TxFromContext(ctx); ok {
		inTx = true
	}

	err := r.provider.RunInTx(ctx, func(txCtx context.Context) error {
		ref, err := r.orders.DocumentRef(txCtx, id)
		if err != nil {
			return err
		}
		tx, ok := pfirestore.TxFromContext(txCtx)
		if !ok {
			return errors.New("order repository: transaction missing from context")
		}

		if !inTx {
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			var stored orderDocument
			if err := snap.DataTo(&stored); err != nil {
				return fmt.Errorf("decode order %s: %w", id, err)
			}
			if stored.Revision != order.Revision {
				return status.Errorf(codes.Aborted, "order %s revision %d does not match %d", id, stored.Revision, order.Revision)
			}
		}

		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("firestore.orders.update", err)
	}

	return doc.toDomain(id), nil
}

// FindByID loads a single order, through the running transaction when present.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("firestore.orders.get", err)
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("firestore.orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
		}
		return doc.toDomain(id), nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("firestore.orders.get", err)
	}
	snap, err := client.Collection(ordersCollection).Doc(id).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("firestore.orders.get", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	return doc.toDomain(id), nil
}

// List returns a page of orders filtered by status, client, and creation window,
// newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("firestore.orders.list", err)
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	query := client.Collection(ordersCollection).Query
	if len(filter.Status) > 0 {
		query = query.Where("status", "in", filter.Status)
	}
	if ref := strings.TrimSpace(filter.ClientRef); ref != "" {
		query = query.Where("clientRef", "==", ref)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Limit(pageSize + 1).Documents(ctx)
	defer iter.Stop()

	var (
		items    []domain.Order
		overflow bool
	)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("firestore.orders.list", err)
		}
		if len(items) == pageSize {
			overflow = true
			break
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		items = append(items, doc.toDomain(snap.Ref.ID))
	}

	page := domain.CursorPage[domain.Order]{Items: items}
	if overflow {
		token, err := encodeOrderPageToken(orderPageToken{
			ID:        items[len(items)-1].ID,
			CreatedAt: items[len(items)-1].CreatedAt,
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// Firestore document shapes ---------------------------------------------------

type orderDocument struct {
	OrderNumber       string              `firestore:"orderNumber"`
	ClientRef         string              `firestore:"clientRef"`
	Status            string              `firestore:"status"`
	PaymentMethod     string              `firestore:"paymentMethod"`
	Items             []orderItemDocument `firestore:"items"`
	ItemsCount        int                 `firestore:"itemsCount"`
	Financials        financialsDocument  `firestore:"financials"`
	ExchangeRate      float64             `firestore:"exchangeRate"`
	Refund            *refundDocument     `firestore:"refund,omitempty"`
	CancelledSnapshot *financialsDocument `firestore:"cancelledSnapshot,omitempty"`
	IsVisible         bool                `firestore:"isVisible"`
	AllowViewInvoice  bool                `firestore:"allowViewInvoice"`
	Revision          int64               `firestore:"revision"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	UpdatedBy         *string             `firestore:"updatedBy,omitempty"`
	CancelledAt       *time.Time          `firestore:"cancelledAt,omitempty"`
	CompletedAt       *time.Time          `firestore:"completedAt,omitempty"`
	RefundedAt        *time.Time          `firestore:"refundedAt,omitempty"`
}

type orderItemDocument struct {
	ProductVariantID      string  `firestore:"productVariantId"`
	ProductName           string  `firestore:"productName"`
	SKU                   string  `firestore:"sku"`
	Quantity              int     `firestore:"qty"`
	CostUSDAtPurchase     float64 `firestore:"costUsdAtPurchase"`
	PriceUSDAtPurchase    float64 `firestore:"priceUsdAtPurchase"`
	SubTotal              float64 `firestore:"subTotal"`
	CogsUSD               float64 `firestore:"cogsUsd"`
	ContributionMarginUSD float64 `firestore:"contributionMarginUsd"`
	ManualOverride        bool    `firestore:"manualOverride"`
}

type financialsDocument struct {
	SubTotal                     float64  `firestore:"subTotal"`
	TotalCogsUSD                 float64  `firestore:"totalCogsUsd"`
	TotalContributionMarginUSD   float64  `firestore:"totalContributionMarginUsd"`
	ContributionMarginPercentage float64  `firestore:"contributionMarginPercentage"`
	BankTransferExpense          *float64 `firestore:"bankTransferExpense,omitempty"`
	TotalAmount                  float64  `firestore:"totalAmount"`
	TotalAmountARS               float64  `firestore:"totalAmountArs"`
}

type refundDocument struct {
	Type             string    `firestore:"type"`
	Amount           float64   `firestore:"amount"`
	AppliedAmount    float64   `firestore:"appliedAmount"`
	OriginalSubTotal float64   `firestore:"originalSubTotal"`
	Reason           string    `firestore:"reason,omitempty"`
	ProcessedBy      string    `firestore:"processedBy,omitempty"`
	ProcessedAt      time.Time `firestore:"processedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
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
		}
	}

	doc := orderDocument{
		OrderNumber:      order.OrderNumber,
		ClientRef:        order.ClientRef,
		Status:           string(order.Status),
		PaymentMethod:    string(order.PaymentMethod),
		Items:            items,
		ItemsCount:       order.ItemsCount,
		Financials:       newFinancialsDocument(order.Financials),
		ExchangeRate:     order.ExchangeRate,
		IsVisible:        order.IsVisible,
		AllowViewInvoice: order.AllowViewInvoice,
		Revision:         order.Revision,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
		UpdatedBy:        order.UpdatedBy,
		CancelledAt:      order.CancelledAt,
		CompletedAt:      order.CompletedAt,
		RefundedAt:       order.RefundedAt,
	}
	if order.Refund != nil {
		doc.Refund = &refundDocument{
			Type:             string(order.Refund.Type),
			Amount:           order.Refund.Amount,
			AppliedAmount:    order.Refund.AppliedAmount,
			OriginalSubTotal: order.Refund.OriginalSubTotal,
			Reason:           order.Refund.Reason,
			ProcessedBy:      order.Refund.ProcessedBy,
			ProcessedAt:      order.Refund.ProcessedAt.UTC(),
		}
	}
	if order.CancelledSnapshot != nil {
		snapshot := newFinancialsDocument(*order.CancelledSnapshot)
		doc.CancelledSnapshot = &snapshot
	}
	return doc
}

func newFinancialsDocument(f domain.FinancialSnapshot) financialsDocument {
	return financialsDocument{
		SubTotal:                     f.SubTotal,
		TotalCogsUSD:                 f.TotalCogsUSD,
		TotalContributionMarginUSD:   f.TotalContributionMarginUSD,
		ContributionMarginPercentage: f.ContributionMarginPercentage,
		BankTransferExpense:          f.BankTransferExpense,
		TotalAmount:                  f.TotalAmount,
		TotalAmountARS:               f.TotalAmountARS,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
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
		}
	}

	order := domain.Order{
		ID:               id,
		OrderNumber:      d.OrderNumber,
		ClientRef:        d.ClientRef,
		Status:           domain.OrderStatus(d.Status),
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		Items:            items,
		ItemsCount:       d.ItemsCount,
		Financials:       d.Financials.toDomain(),
		ExchangeRate:     d.ExchangeRate,
		IsVisible:        d.IsVisible,
		AllowViewInvoice: d.AllowViewInvoice,
		Revision:         d.Revision,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		UpdatedBy:        d.UpdatedBy,
		CancelledAt:      d.CancelledAt,
		CompletedAt:      d.CompletedAt,
		RefundedAt:       d.RefundedAt,
	}
	if d.Refund != nil {
		order.Refund = &domain.Refund{
			Type:             domain.RefundType(d.Refund.Type),
			Amount:           d.Refund.Amount,
			AppliedAmount:    d.Refund.AppliedAmount,
			OriginalSubTotal: d.Refund.OriginalSubTotal,
			Reason:           d.Refund.Reason,
			ProcessedBy:      d.Refund.ProcessedBy,
			ProcessedAt:      d.Refund.ProcessedAt,
		}
	}
	if d.CancelledSnapshot != nil {
		snapshot := d.CancelledSnapshot.toDomain()
		order.CancelledSnapshot = &snapshot
	}
	return order
}

func (d financialsDocument) toDomain() domain.FinancialSnapshot {
	return domain.FinancialSnapshot{
		SubTotal:                     d.SubTotal,
		TotalCogsUSD:                 d.TotalCogsUSD,
		TotalContributionMarginUSD:   d.TotalContributionMarginUSD,
		ContributionMarginPercentage: d.ContributionMarginPercentage,
		BankTransferExpense:          d.BankTransferExpense,
		TotalAmount:                  d.TotalAmount,
		TotalAmountARS:               d.TotalAmountARS,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}
