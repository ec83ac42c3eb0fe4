package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/beehive-sync/beehive/internal/api"
	"github.com/beehive-sync/beehive/internal/auth"
	"github.com/beehive-sync/beehive/internal/authz"
	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/metrics"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/rowstore"
	"github.com/beehive-sync/beehive/internal/scheduler"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/schemaload"
	"github.com/beehive-sync/beehive/internal/share"
	"github.com/beehive-sync/beehive/internal/store"
	"github.com/beehive-sync/beehive/internal/syncsrv"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	syncAddr      string
	httpAddr      string
	dbDriver      string
	dbDSN         string
	secretKey     string
	logLevel      string
	googleClient  string
	adminUser     string
	adminPassword string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "beehive-server",
		Short: "Beehive server — multi-tenant synchronization server for embedded relational replicas",
		Long: `Beehive server accepts the sync wire protocol (spec §6.1) on a TCP port
and exposes a thin admin HTTP surface (spec §6.2) for context and user
management.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.syncAddr, "sync-addr", envOrDefault("BEEHIVE_SYNC_ADDR", ":9440"), "Sync protocol TCP listen address (spec §6.1)")
	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("BEEHIVE_HTTP_ADDR", ":8080"), "Admin HTTP API listen address (spec §6.2)")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("BEEHIVE_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("BEEHIVE_DB_DSN", "./beehive.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("BEEHIVE_SECRET_KEY", ""), "Master secret key for encrypting node keys at rest (required)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("BEEHIVE_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.googleClient, "google-client-id", envOrDefault("BEEHIVE_GOOGLE_CLIENT_ID", ""), "Expected audience for Google ID token sign-in (empty disables audience checking)")
	root.PersistentFlags().StringVar(&cfg.adminUser, "admin-user", envOrDefault("BEEHIVE_ADMIN_USER", "admin"), "Developer HTTP Basic username for the /context admin surface")
	root.PersistentFlags().StringVar(&cfg.adminPassword, "admin-password", envOrDefault("BEEHIVE_ADMIN_PASSWORD", ""), "Developer HTTP Basic password for the /context admin surface (required)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("beehive-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or BEEHIVE_SECRET_KEY")
	}
	if cfg.adminPassword == "" {
		return fmt.Errorf("admin password is required — set --admin-password or BEEHIVE_ADMIN_PASSWORD")
	}

	logger.Info("starting beehive server",
		zap.String("version", version),
		zap.String("sync_addr", cfg.syncAddr),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// Must run before opening the database: Node.Key (db.EncryptedString)
	// encrypts/decrypts transparently on read/write.
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.secretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories ---
	contextRepo := repository.NewContextRepository(gormDB)
	versionRepo := repository.NewSchemaVersionRepository(gormDB)
	userRepo := repository.NewUserRepository(gormDB)
	nodeRepo := repository.NewNodeRepository(gormDB)
	datasetRepo := repository.NewDatasetRepository(gormDB)
	memberRepo := repository.NewMemberRepository(gormDB)
	pushRepo := repository.NewPushRepository(gormDB)
	headerRepo := repository.NewHeaderRepository(gormDB)
	changeRepo := repository.NewChangeRepository(gormDB)
	downloadedRepo := repository.NewDownloadedRepository(gormDB)
	transactor := repository.NewTransactor(gormDB)

	rows := rowstore.New(gormDB, cfg.dbDriver)

	// --- 4. Schema registries ---
	// One schema.Registry per context, lazily compiled from SchemaVersion
	// blobs and cached — spec §5: "writers are rare; reads dominate", so a
	// registry is only rebuilt when a context publishes (LINK/UNLINK).
	registries := newRegistryCache(versionRepo, contextRepo, logger)

	// --- 5. Auth ---
	var google *auth.GoogleVerifier
	if cfg.googleClient != "" || envOrDefault("BEEHIVE_GOOGLE_ENABLE", "") == "true" {
		google, err = auth.NewGoogleVerifier(ctx, cfg.googleClient)
		if err != nil {
			logger.Warn("google id token verification disabled: failed to initialize", zap.Error(err))
		}
	}
	sessions := auth.NewSession(userRepo, nodeRepo, memberRepo, google)

	// --- 6. Authz, share, store engine ---
	// One Resolver/Service instance is shared across every context's
	// connections — neither carries a schema.Registry of its own; the
	// caller's context registry (resolved per-connection from registries)
	// is passed into every call, since the server is multi-tenant (spec §2).
	authzResolver := authz.NewResolver(memberRepo)
	shareService := share.NewService(pushRepo, memberRepo, authzResolver)
	engine := store.New(transactor, datasetRepo, headerRepo, changeRepo, downloadedRepo, rows, nil)

	// --- 7. Sync orchestrator ---
	syncSrv := syncsrv.NewServer(syncsrv.Config{
		Contexts:   contextRepo,
		Sessions:   sessions,
		Nodes:      nodeRepo,
		Datasets:   datasetRepo,
		Members:    memberRepo,
		Pushes:     pushRepo,
		Users:      userRepo,
		Headers:    headerRepo,
		Changes:    changeRepo,
		Downloaded: downloadedRepo,
		Rows:       rows,
		Engine:     engine,
		Shares:     shareService,
		Authz:      authzResolver,
		Registries: registries,
		Logger:     logger.Named("syncsrv"),
	})

	// --- 7b. Background jobs ---
	sched, err := scheduler.New(pushRepo, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	ln, err := net.Listen("tcp", cfg.syncAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on sync address: %w", err)
	}
	go func() {
		logger.Info("sync server listening", zap.String("addr", cfg.syncAddr))
		if err := syncSrv.Serve(ctx, ln); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Error("sync server error", zap.Error(err))
			cancel()
		}
	}()

	// --- 8. Admin HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Contexts:      contextRepo,
		Versions:      versionRepo,
		Users:         userRepo,
		Sessions:      sessions,
		Registries:    registries,
		Logger:        logger,
		AdminUser:     cfg.adminUser,
		AdminPassword: cfg.adminPassword,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down beehive server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}
	_ = ln.Close()

	logger.Info("beehive server stopped")
	return nil
}

// registryCache lazily compiles and caches one schema.Registry per context,
// implementing syncsrv.Registries. Invalidated wholesale on LINK/UNLINK by
// the admin API dropping the context's entry — simpler than diffing
// published versions, and publish/revert are rare (spec §5).
type registryCache struct {
	versions repository.SchemaVersionRepository
	contexts repository.ContextRepository
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[uuid.UUID]*schema.Registry
}

func newRegistryCache(versions repository.SchemaVersionRepository, contexts repository.ContextRepository, logger *zap.Logger) *registryCache {
	return &registryCache{
		versions: versions,
		contexts: contexts,
		logger:   logger,
		cache:    map[uuid.UUID]*schema.Registry{},
	}
}

// Registry returns the compiled schema.Registry for contextID, building it
// from every stored SchemaVersion on first use.
func (c *registryCache) Registry(ctx context.Context, contextID uuid.UUID) (*schema.Registry, error) {
	c.mu.Lock()
	if r, ok := c.cache[contextID]; ok {
		c.mu.Unlock()
		metrics.RegistryCacheHits.Inc()
		return r, nil
	}
	c.mu.Unlock()
	metrics.RegistryCacheMisses.Inc()

	versions, err := c.versions.ListByContext(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("registry cache: listing schema versions: %w", err)
	}
	ctxRow, err := c.contexts.GetByID(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("registry cache: loading context: %w", err)
	}

	reg := schema.NewRegistry()
	for _, sv := range versions {
		if sv.Number > ctxRow.Version {
			continue // drafts above the published version aren't served to clients
		}
		v, err := schemaload.Compile(sv.Blob, sv.Number)
		if err != nil {
			return nil, fmt.Errorf("registry cache: compiling version %d: %w", sv.Number, err)
		}
		reg.Publish(v)
	}

	c.mu.Lock()
	c.cache[contextID] = reg
	c.mu.Unlock()
	return reg, nil
}

// Invalidate drops the cached registry for contextID, forcing the next
// Registry call to recompile from the database. The admin API calls this
// after LINK/UNLINK.
func (c *registryCache) Invalidate(contextID uuid.UUID) {
	c.mu.Lock()
	delete(c.cache, contextID)
	c.mu.Unlock()
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var zcfg zap.Config

	switch level {
	case "debug":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return zcfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
