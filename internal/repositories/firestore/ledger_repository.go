package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/visionwholesale/api/internal/domain"
	pfirestore "github.com/visionwholesale/api/internal/platform/firestore"
	"github.com/visionwholesale/api/internal/repositories"
)

const (
	stockCollection             = "productStock"
	stockReservationsCollection = "stockReservations"
)

// StockLedgerRepository implements repositories.StockLedger on Firestore.
// Stock documents are keyed by product variant id; reservations are keyed by
// order id so replacing an order's held quantities is a single document swap.
// Stock counters move by blind increments, which keeps every write usable in
// the read-then-write phase discipline of a Firestore transaction. Callers
// validate availability in the same transaction before reserving.
type StockLedgerRepository struct {
	provider     *pfirestore.Provider
	stocks       *pfirestore.BaseRepository[stockDocument]
	reservations *pfirestore.BaseRepository[reservationDocument]
	now          func() time.Time
}

var _ repositories.StockLedger = (*StockLedgerRepository)(nil)

// NewStockLedgerRepository constructs a Firestore-backed stock ledger.
func NewStockLedgerRepository(provider *pfirestore.Provider) (*StockLedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("stock ledger requires firestore provider")
	}
	return &StockLedgerRepository{
		provider:     provider,
		stocks:       pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil),
		reservations: pfirestore.NewBaseRepository[reservationDocument](provider, stockReservationsCollection, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Reserve replaces the order's reservation with exactly the given lines and
// shifts stock counters by the difference. Passing no lines clears the
// reservation entirely.
func (r *StockLedgerRepository) Reserve(ctx context.Context, orderID string, lines []repositories.ReservationLine) error {
	if r == nil || r.provider == nil {
		return errors.New("stock ledger not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "stock ledger: order id is required", nil)
	}

	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		variantID := strings.TrimSpace(line.VariantID)
		if variantID == "" {
			return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "stock ledger: variant id is required", nil)
		}
		if line.Quantity <= 0 {
			return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, fmt.Sprintf("stock ledger: quantity for %s must be positive", variantID), nil)
		}
		requested[variantID] += line.Quantity
	}

	err := r.provider.RunInTx(ctx, func(txCtx context.Context) error {
		tx, ok := pfirestore.TxFromContext(txCtx)
		if !ok {
			return errors.New("stock ledger: transaction missing from context")
		}

		resRef, err := r.reservations.DocumentRef(txCtx, id)
		if err != nil {
			return err
		}

		held, _, err := r.readReservation(tx, resRef)
		if err != nil {
			return err
		}

		now := r.now()
		if err := r.applyStockDeltas(txCtx, tx, held, requested, now); err != nil {
			return err
		}

		if len(requested) == 0 {
			return tx.Delete(resRef)
		}
		return tx.Set(resRef, newReservationDocument(id, lines, now))
	})
	return wrapLedgerError("ledger.reserve", err)
}

// Release drops the order's reservation and returns its quantities to
// availability. Releasing an order with no reservation is a no-op.
func (r *StockLedgerRepository) Release(ctx context.Context, orderID string) error {
	if r == nil || r.provider == nil {
		return errors.New("stock ledger not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "stock ledger: order id is required", nil)
	}

	err := r.provider.RunInTx(ctx, func(txCtx context.Context) error {
		tx, ok := pfirestore.TxFromContext(txCtx)
		if !ok {
			return errors.New("stock ledger: transaction missing from context")
		}

		resRef, err := r.reservations.DocumentRef(txCtx, id)
		if err != nil {
			return err
		}

		held, exists, err := r.readReservation(tx, resRef)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}

		if err := r.applyStockDeltas(txCtx, tx, held, nil, r.now()); err != nil {
			return err
		}
		return tx.Delete(resRef)
	})
	return wrapLedgerError("ledger.release", err)
}

// Reservation returns the lines currently held by the order, empty when none.
func (r *StockLedgerRepository) Reservation(ctx context.Context, orderID string) ([]repositories.ReservationLine, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("stock ledger not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "stock ledger: order id is required", nil)
	}

	var doc reservationDocument
	found := false

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		ref, err := r.reservations.DocumentRef(ctx, id)
		if err != nil {
			return nil, wrapLedgerError("ledger.reservation", err)
		}
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snap.DataTo(&doc); err != nil {
				return nil, fmt.Errorf("decode reservation %s: %w", id, err)
			}
			found = true
		case codes.NotFound:
		default:
			return nil, wrapLedgerError("ledger.reservation", err)
		}
	} else {
		stored, err := r.reservations.Get(ctx, id)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, nil
			}
			return nil, wrapLedgerError("ledger.reservation", err)
		}
		doc = stored.Data
		found = true
	}

	if !found {
		return nil, nil
	}

	lines := make([]repositories.ReservationLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, repositories.ReservationLine{
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
		})
	}
	return lines, nil
}

// Availability reads current stock levels for the given variants. Variants
// without a stock document are omitted from the result.
func (r *StockLedgerRepository) Availability(ctx context.Context, variantIDs []string) (map[string]domain.StockLevel, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("stock ledger not initialised")
	}

	levels := make(map[string]domain.StockLevel, len(variantIDs))
	if len(variantIDs) == 0 {
		return levels, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapLedgerError("ledger.availability", err)
	}

	refs := make([]*firestore.DocumentRef, 0, len(variantIDs))
	for _, variantID := range variantIDs {
		id := strings.TrimSpace(variantID)
		if id == "" {
			continue
		}
		refs = append(refs, client.Collection(stockCollection).Doc(id))
	}

	var snaps []*firestore.DocumentSnapshot
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		snaps, err = tx.GetAll(refs)
	} else {
		snaps, err = client.GetAll(ctx, refs)
	}
	if err != nil {
		return nil, wrapLedgerError("ledger.availability", err)
	}

	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode stock %s: %w", snap.Ref.ID, err)
		}
		levels[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return levels, nil
}

func (r *StockLedgerRepository) readReservation(tx *firestore.Transaction, ref *firestore.DocumentRef) (map[string]int, bool, error) {
	snap, err := tx.Get(ref)
	switch status.Code(err) {
	case codes.NotFound:
		return nil, false, nil
	case codes.OK:
	default:
		return nil, false, err
	}

	var doc reservationDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, false, fmt.Errorf("decode reservation %s: %w", ref.ID, err)
	}

	held := make(map[string]int, len(doc.Lines))
	for _, line := range doc.Lines {
		held[line.VariantID] += line.Quantity
	}
	return held, true, nil
}

// applyStockDeltas moves reserved and available counters by the difference
// between what the order held and what it requests. Blind increments keep the
// writes valid after reads in the enclosing transaction; a missing stock
// document surfaces as not-found when the transaction commits.
func (r *StockLedgerRepository) applyStockDeltas(ctx context.Context, tx *firestore.Transaction, held, requested map[string]int, now time.Time) error {
	variants := make(map[string]bool, len(held)+len(requested))
	for variantID := range held {
		variants[variantID] = true
	}
	for variantID := range requested {
		variants[variantID] = true
	}

	for variantID := range variants {
		delta := requested[variantID] - held[variantID]
		if delta == 0 {
			continue
		}
		ref, err := r.stocks.DocumentRef(ctx, variantID)
		if err != nil {
			return err
		}
		err = tx.Update(ref, []firestore.Update{
			{Path: "reserved", Value: firestore.Increment(delta)},
			{Path: "available", Value: firestore.Increment(-delta)},
			{Path: "updatedAt", Value: now},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type stockDocument struct {
	ProductName string    `firestore:"productName,omitempty"`
	SKU         string    `firestore:"sku,omitempty"`
	OnHand      int       `firestore:"onHand"`
	Reserved    int       `firestore:"reserved"`
	Available   int       `firestore:"available"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (s stockDocument) toDomain(id string) domain.StockLevel {
	return domain.StockLevel{
		VariantID: id,
		OnHand:    s.OnHand,
		Reserved:  s.Reserved,
		Available: s.Available,
	}
}

type reservationDocument struct {
	OrderRef  string                    `firestore:"orderRef"`
	Lines     []reservationLineDocument `firestore:"lines"`
	CreatedAt time.Time                 `firestore:"createdAt"`
	UpdatedAt time.Time                 `firestore:"updatedAt"`
}

type reservationLineDocument struct {
	VariantID string `firestore:"variantId"`
	Quantity  int    `firestore:"qty"`
}

func newReservationDocument(orderID string, lines []repositories.ReservationLine, now time.Time) reservationDocument {
	docLines := make([]reservationLineDocument, 0, len(lines))
	for _, line := range lines {
		docLines = append(docLines, reservationLineDocument{
			VariantID: strings.TrimSpace(line.VariantID),
			Quantity:  line.Quantity,
		})
	}
	return reservationDocument{
		OrderRef:  "orders/" + orderID,
		Lines:     docLines,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func wrapLedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		if ledgerErr.Op == "" {
			ledgerErr.Op = op
		}
		return ledgerErr
	}
	if status.Code(err) == codes.NotFound {
		return repositories.NewLedgerError(repositories.LedgerErrorStockNotFound, "stock record not found", err)
	}
	return pfirestore.WrapError(op, err)
}
