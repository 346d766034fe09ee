package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/visionwholesale/api/internal/platform/config"
	"github.com/visionwholesale/api/internal/platform/events"
	pfirestore "github.com/visionwholesale/api/internal/platform/firestore"
	"github.com/visionwholesale/api/internal/platform/observability"
	"github.com/visionwholesale/api/internal/rates"
	"github.com/visionwholesale/api/internal/repositories"
	firestoreRepo "github.com/visionwholesale/api/internal/repositories/firestore"
	"github.com/visionwholesale/api/internal/services"
)

// Repositories bundles the persistence implementations used by the services.
type Repositories struct {
	Orders   repositories.OrderRepository
	Ledger   repositories.StockLedger
	Counters repositories.CounterRepository
	Audit    repositories.AuditLogRepository
	Health   repositories.HealthRepository
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders services.OrderService
	System services.SystemService
}

// Container wires configuration, persistence, and services for runtime use.
type Container struct {
	Config       config.Config
	Firestore    *pfirestore.Provider
	Repositories Repositories
	Services     Services

	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
}

// NewContainer assembles the runtime dependency graph from configuration.
func NewContainer(ctx context.Context, cfg config.Config) (*Container, error) {
	provider := pfirestore.NewProvider(cfg.Firestore)

	ordersRepo, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	ledgerRepo, err := firestoreRepo.NewStockLedgerRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build stock ledger: %w", err)
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}
	auditRepo, err := firestoreRepo.NewAuditLogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build audit log repository: %w", err)
	}

	ratesClient, err := rates.NewClient(cfg.Rates.BaseURL, cfg.Rates.Timeout)
	if err != nil {
		return nil, fmt.Errorf("build rates client: %w", err)
	}

	container := &Container{
		Config:    cfg,
		Firestore: provider,
	}

	var publisher services.OrderEventPublisher
	if topicID := strings.TrimSpace(cfg.Events.Topic); topicID != "" {
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		container.pubsubClient = client
		container.pubsubTopic = client.Topic(topicID)

		publisher, err = events.NewPubSubOrderPublisher(container.pubsubTopic)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("build order event publisher: %w", err)
		}
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(container.dependencyChecks(ratesClient))
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	container.Repositories = Repositories{
		Orders:   ordersRepo,
		Ledger:   ledgerRepo,
		Counters: counterRepo,
		Audit:    auditRepo,
		Health:   healthRepo,
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      ordersRepo,
		Ledger:      ledgerRepo,
		Counters:    counterRepo,
		Audit:       auditRepo,
		Rates:       ratesClient,
		Calculator:  services.FinancialCalculator{BankTransferFeeRate: cfg.Payments.BankTransferFeeRate},
		UnitOfWork:  provider,
		Clock:       time.Now,
		IDGenerator: newEntityID,
		Events:      publisher,
		Logger:      contextLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		AuditLogs:        auditRepo,
		Clock:            time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}

	container.Services = Services{
		Orders: orderSvc,
		System: systemSvc,
	}
	return container, nil
}

// Close releases the Firestore and Pub/Sub clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var firstErr error
	if c.pubsubTopic != nil {
		c.pubsubTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			firstErr = err
		}
	}
	if c.Firestore != nil {
		if err := c.Firestore.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Container) dependencyChecks(ratesClient *rates.Client) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				client, err := c.Firestore.Client(ctx)
				if err != nil {
					return err
				}
				iter := client.Collections(ctx)
				if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
					return err
				}
				return nil
			},
		},
		{
			Name:    "rates",
			Timeout: c.Config.Rates.Timeout,
			Check: func(ctx context.Context) error {
				_, err := ratesClient.CurrentRate(ctx)
				return err
			},
		},
	}

	if c.pubsubTopic != nil {
		topic := c.pubsubTopic
		checks = append(checks, repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	return checks
}

func newEntityID() string {
	return strings.ToLower(ulid.Make().String())
}

func contextLogger(ctx context.Context, event string, fields map[string]any) {
	logger := observability.FromContext(ctx)
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	logger.Info(event, zapFields...)
}
