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

	domain "github.com/visionwholesale/api/internal/domain"
	pfirestore "github.com/visionwholesale/api/internal/platform/firestore"
	"github.com/visionwholesale/api/internal/repositories"
)

const (
	auditLogsCollection = "auditLogs"
	defaultAuditLimit   = 50
	maxAuditLimit       = 200
)

// AuditLogRepository stores immutable audit trail entries in Firestore.
type AuditLogRepository struct {
	provider *pfirestore.Provider
	entries  *pfirestore.BaseRepository[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{
		provider: provider,
		entries:  pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogsCollection, nil),
	}, nil
}

// Append writes a new audit entry, joining the running transaction when present.
// Entries are create-only; appending a duplicate id fails with a conflict.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.provider == nil {
		return errors.New("audit log repository not initialised")
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("audit log repository: entry id is required")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit log repository: action is required")
	}

	doc := newAuditLogDocument(entry)

	err := r.provider.RunInTx(ctx, func(txCtx context.Context) error {
		ref, err := r.entries.DocumentRef(txCtx, id)
		if err != nil {
			return err
		}
		tx, ok := pfirestore.TxFromContext(txCtx)
		if !ok {
			return errors.New("audit log repository: transaction missing from context")
		}
		return tx.Create(ref, doc)
	})
	return pfirestore.WrapError("firestore.auditLogs.append", err)
}

// List returns a page of audit entries, newest first.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("firestore.auditLogs.list", err)
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultAuditLimit
	}
	if pageSize > maxAuditLimit {
		pageSize = maxAuditLimit
	}

	query := client.Collection(auditLogsCollection).Query
	if ref := strings.TrimSpace(filter.TargetRef); ref != "" {
		query = query.Where("targetRef", "==", ref)
	}
	if actor := strings.TrimSpace(filter.Actor); actor != "" {
		query = query.Where("actor", "==", actor)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("action", "==", action)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeAuditPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, err
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Limit(pageSize + 1).Documents(ctx)
	defer iter.Stop()

	var (
		items    []domain.AuditLogEntry
		overflow bool
	)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("firestore.auditLogs.list", err)
		}
		if len(items) == pageSize {
			overflow = true
			break
		}
		var doc auditLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("decode audit entry %s: %w", snap.Ref.ID, err)
		}
		items = append(items, doc.toDomain(snap.Ref.ID))
	}

	page := domain.CursorPage[domain.AuditLogEntry]{Items: items}
	if overflow {
		last := items[len(items)-1]
		token, err := encodeAuditPageToken(auditPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

type auditLogDocument struct {
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef"`
	Actor     string         `firestore:"actor,omitempty"`
	Details   map[string]any `firestore:"details,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func newAuditLogDocument(entry domain.AuditLogEntry) auditLogDocument {
	return auditLogDocument{
		Action:    strings.TrimSpace(entry.Action),
		TargetRef: strings.TrimSpace(entry.TargetRef),
		Actor:     strings.TrimSpace(entry.Actor),
		Details:   entry.Details,
		CreatedAt: entry.CreatedAt.UTC(),
	}
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:        id,
		Action:    d.Action,
		TargetRef: d.TargetRef,
		Actor:     d.Actor,
		Details:   d.Details,
		CreatedAt: d.CreatedAt,
	}
}

type auditPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeAuditPageToken(token auditPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode audit page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeAuditPageToken(encoded string) (*auditPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode audit page token: %w", err)
	}
	var token auditPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode audit page token json: %w", err)
	}
	return &token, nil
}
