// Package container provides dependency injection and lifecycle management
// for the execution gate service.
package container

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/application/dispatcher"
	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/application/service"
	"github.com/garyjia/execution-gate/internal/approval"
	"github.com/garyjia/execution-gate/internal/config"
	"github.com/garyjia/execution-gate/internal/dimension"
	"github.com/garyjia/execution-gate/internal/flow"
	"github.com/garyjia/execution-gate/internal/graph"
	infraLark "github.com/garyjia/execution-gate/internal/infrastructure/external/lark"
	"github.com/garyjia/execution-gate/internal/infrastructure/persistence/repository"
	"github.com/garyjia/execution-gate/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/execution-gate/internal/infrastructure/storage"
	"github.com/garyjia/execution-gate/internal/infrastructure/worker"
	httpapi "github.com/garyjia/execution-gate/internal/interfaces/http"
	"github.com/garyjia/execution-gate/internal/report"
	"github.com/garyjia/execution-gate/pkg/database"
	"github.com/garyjia/execution-gate/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Audit     port.AuditRepository
	Snapshots port.SnapshotRepository
}

// CoreBundle holds the planning core: graph, gate and flow resolver.
type CoreBundle struct {
	Engine   *graph.Engine
	Gate     *approval.Gate
	Resolver *flow.Resolver
}

// LarkBundle holds the Lark components used for approver notifications.
type LarkBundle struct {
	Client    *infraLark.SDKClient
	Messenger port.MessageSender
	Notifier  port.Notifier
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Planning     service.PlanningService
	Notification service.NotificationService
}

// ProvideDatabase opens the sqlite database and applies pending migrations.
func ProvideDatabase(cfg *config.Config, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.Open(cfg.ToDatabase(), logger)
	if err != nil {
		return nil, err
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories over the transaction manager.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Audit:     repository.NewAuditRepository(db, logger),
		Snapshots: repository.NewSnapshotRepository(db, logger),
	}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKVLogger(logger))), nil
}

// ProvideCore creates the graph engine, the approval gate writing to audit,
// and the flow resolver. Gate events go to d.
func ProvideCore(cfg *config.Config, audit port.AuditRepository, d dispatcher.Dispatcher, logger *zap.Logger) (*CoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if audit == nil {
		return nil, fmt.Errorf("audit repository is required")
	}

	engine := graph.NewEngine(
		graph.WithLogger(logger.Named("graph")),
		graph.WithLayerConfig(cfg.ToLayers()),
	)
	gate := approval.NewGate(engine, audit,
		approval.WithConfig(cfg.ToGate()),
		approval.WithDispatcher(d),
		approval.WithLogger(logger.Named("gate")),
	)

	return &CoreBundle{
		Engine:   engine,
		Gate:     gate,
		Resolver: flow.NewResolver(flow.WithResolverLogger(logger.Named("flow"))),
	}, nil
}

// ProvideLark creates the Lark client chain. It returns nil when Lark is disabled.
func ProvideLark(cfg *config.LarkConfig, logger *zap.Logger) (*LarkBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lark config is required")
	}
	if !cfg.Enabled {
		logger.Info("Lark notifications disabled")
		return nil, nil
	}
	if cfg.ApproverChatID == "" {
		return nil, fmt.Errorf("lark approver chat id is required")
	}

	client := infraLark.NewSDKClient(infraLark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
	}, logger)
	messenger := infraLark.NewMessenger(client, logger)

	return &LarkBundle{
		Client:    client,
		Messenger: messenger,
		Notifier:  infraLark.NewNotifier(messenger, cfg.ApproverChatID, logger),
	}, nil
}

// ProvideStorage creates the export file storage.
func ProvideStorage(cfg *config.ExportConfig, logger *zap.Logger) (port.FileStorage, error) {
	if cfg == nil || cfg.Dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	return storage.NewLocalFileStorage(cfg.Dir, logger), nil
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Core       *CoreBundle
	Repos      *RepositoryBundle
	Lark       *LarkBundle
	Dispatcher dispatcher.Dispatcher
	APITimeout time.Duration
	Logger     *zap.Logger
}

// ProvideServices creates the application services and subscribes the
// notification service when Lark is configured.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Core == nil || deps.Repos == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	kv := utils.NewKVLogger(deps.Logger)

	bundle := &ServiceBundle{
		Planning: service.NewPlanningService(
			deps.Core.Engine,
			deps.Core.Gate,
			deps.Core.Resolver,
			deps.Repos.Snapshots,
			deps.Dispatcher,
			kv,
		),
	}

	if deps.Lark != nil {
		bundle.Notification = service.NewNotificationService(deps.Core.Gate, deps.Lark.Notifier, deps.APITimeout, kv)
		bundle.Notification.Register(deps.Dispatcher)
	}
	return bundle, nil
}

// WorkerDeps holds dependencies for creating workers.
type WorkerDeps struct {
	Core     *CoreBundle
	Lark     *LarkBundle
	ChatID   string
	Approval *config.ApprovalConfig
	Logger   *zap.Logger
}

// ProvideWorkers creates the expiry sweeper and the wait monitor.
func ProvideWorkers(deps *WorkerDeps) (*worker.Manager, error) {
	if deps == nil || deps.Core == nil || deps.Approval == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	logger := deps.Logger

	manager := worker.NewManager(logger)
	manager.Register(worker.NewExpirySweeper(deps.Core.Gate, deps.Approval.SweepInterval, logger))
	manager.Register(worker.NewWaitMonitor(deps.Core.Engine, deps.Approval.WaitCheckInterval, overdueWaitAlert(deps.Lark, deps.ChatID, logger), logger))

	return manager, nil
}

// overdueWaitAlert posts overdue signal waits to the approver chat.
func overdueWaitAlert(l *LarkBundle, chatID string, logger *zap.Logger) func(dimension.WaitState) {
	if l == nil {
		return nil
	}
	return func(w dimension.WaitState) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		text := fmt.Sprintf("Task %s is still waiting for signal %q (registered %s, timeout %s).",
			w.TaskID, w.Token, w.RegisteredAt.Format(time.RFC3339), w.Timeout)
		if err := l.Messenger.SendText(ctx, chatID, text); err != nil {
			logger.Error("Failed to send overdue wait alert", zap.String("task_id", w.TaskID), zap.Error(err))
		}
	}
}

// HTTPDeps holds dependencies for the HTTP server.
type HTTPDeps struct {
	Server   config.ServerConfig
	Core     *CoreBundle
	Repos    *RepositoryBundle
	Services *ServiceBundle
	Storage  port.FileStorage
	Version  string
	Logger   *zap.Logger
}

// ProvideHTTPServer creates the HTTP API server. It is not started.
func ProvideHTTPServer(deps *HTTPDeps) (*httpapi.Server, error) {
	if deps == nil || deps.Core == nil || deps.Services == nil {
		return nil, fmt.Errorf("http dependencies are required")
	}

	return httpapi.NewServer(httpapi.ServerConfig{
		Host:         deps.Server.Host,
		Port:         deps.Server.Port,
		Mode:         deps.Server.Mode,
		ReadTimeout:  deps.Server.ReadTimeout,
		WriteTimeout: deps.Server.WriteTimeout,
	}, httpapi.Dependencies{
		Planning:  deps.Services.Planning,
		Gate:      deps.Core.Gate,
		Tasks:     deps.Core.Engine,
		Snapshots: deps.Repos.Snapshots,
		Exporter:  report.NewAuditExporter(time.Local, deps.Logger),
		Storage:   deps.Storage,
		Version:   deps.Version,
	}, utils.NewKVLogger(deps.Logger.Named("http"))), nil
}
