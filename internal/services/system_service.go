package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/visionwholesale/api/internal/domain"
	"github.com/visionwholesale/api/internal/repositories"
)

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	AuditLogs        repositories.AuditLogRepository
	Clock            func() time.Time
}

type systemService struct {
	healthRepo repositories.HealthRepository
	auditLogs  repositories.AuditLogRepository
	clock      func() time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the system utility service providing health reports
// and audit trail access.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		auditLogs:  deps.AuditLogs,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.clock()
	}
	if len(report.Checks) == 0 {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.Status == "" {
		report.Status = domain.HealthStatusOK
	}

	return report, nil
}

func (s *systemService) ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	if ctx == nil {
		return domain.CursorPage[AuditLogEntry]{}, errors.New("system service: context is required")
	}
	if s.auditLogs == nil {
		return domain.CursorPage[AuditLogEntry]{}, errors.New("system service: audit repository not configured")
	}
	return s.auditLogs.List(ctx, filter)
}
