// FileCore Server
//
// Hosts the file management core:
// - Metadata in PostgreSQL or an embedded Badger store
// - Per-tenant storage (local disk, S3, hybrid) with encrypted credentials
// - Version history, sharing grants and folders
// - Soft delete with a background retention sweep
// - File events fanned out locally and to Redis
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/filecore/internal/config"
	"github.com/fruitsalade/filecore/internal/events"
	"github.com/fruitsalade/filecore/internal/files"
	"github.com/fruitsalade/filecore/internal/lifecycle"
	"github.com/fruitsalade/filecore/internal/logging"
	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/metadata/badger"
	"github.com/fruitsalade/filecore/internal/metadata/postgres"
	"github.com/fruitsalade/filecore/internal/metrics"
	"github.com/fruitsalade/filecore/internal/quota"
	"github.com/fruitsalade/filecore/internal/secrets"
	"github.com/fruitsalade/filecore/internal/settings"
	"github.com/fruitsalade/filecore/internal/sharing"
	"github.com/fruitsalade/filecore/internal/storage"
	"github.com/fruitsalade/filecore/internal/versioning"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	sweepOnce := flag.Bool("sweep-once", false, "run one retention sweep and exit")
	statsTenant := flag.String("stats", "", "print storage statistics for a tenant id and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("FileCore server starting...",
		zap.String("metadata", cfg.MetadataBackend),
		zap.String("storage", cfg.StorageBackend),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	box, err := secrets.NewBoxFromBase64(cfg.SecretsMasterKey)
	if err != nil {
		logging.Fatal("invalid secrets master key", zap.Error(err))
	}

	// Initialize metadata store
	var (
		metaStore metadata.Store
		pgStore   *postgres.Store
	)
	switch cfg.MetadataBackend {
	case "badger":
		logging.Info("opening Badger metadata store...", zap.String("path", cfg.BadgerPath))
		metaStore, err = badger.New(badger.Config{Path: cfg.BadgerPath})
		if err != nil {
			logging.Fatal("badger open failed", zap.Error(err))
		}
	default:
		logging.Info("connecting to PostgreSQL...")
		pgStore, err = postgres.New(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		metaStore = pgStore

		// Run migrations
		migrationsDir := cfg.MigrationsDir
		if migrationsDir == "" {
			migrationsDir = findMigrationsDir()
		}
		if migrationsDir != "" {
			logging.Info("running migrations...", zap.String("dir", migrationsDir))
			if err := pgStore.Migrate(migrationsDir); err != nil {
				logging.Fatal("migration failed", zap.Error(err))
			}
		}
	}
	defer metaStore.Close()

	// Tenant settings and storage
	defaults, cipher, err := defaultSettings(cfg, box)
	if err != nil {
		logging.Fatal("invalid storage defaults", zap.Error(err))
	}
	var provider settings.Provider
	switch cfg.SettingsSource {
	case "database":
		if pgStore == nil {
			logging.Fatal("SETTINGS_SOURCE=database requires METADATA_BACKEND=postgres")
		}
		provider = settings.NewStore(pgStore.DB(), defaults, box)
	default:
		static, err := settings.LoadStatic(defaults, cfg.TenantSettingsFile)
		if err != nil {
			logging.Fatal("tenant settings load failed", zap.Error(err))
		}
		provider = static
	}

	dispatcher := storage.NewDispatcher(provider, cipher)
	defer dispatcher.Close()
	logging.Info("storage dispatcher initialized")

	var directory sharing.Directory
	if pgStore != nil {
		directory = sharing.NewDirectoryStore(pgStore.DB())
	} else {
		directory = sharing.NewStaticDirectory()
	}

	// Events: local fan-out plus optional Redis
	broadcaster := events.NewBroadcaster()
	publisher := events.Multi{broadcaster}
	if cfg.RedisURL != "" {
		redisPublisher, err := events.NewRedisPublisher(ctx, cfg.RedisURL, cfg.EventsChannel)
		if err != nil {
			logging.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisPublisher.Close()
		publisher = append(publisher, redisPublisher)
		logging.Info("redis event publisher initialized", zap.String("channel", cfg.EventsChannel))
	}

	rateLimiter := quota.NewRateLimiter(cfg.UploadsPerMinute)

	engine := versioning.NewEngine(metaStore, dispatcher, provider)
	manager := lifecycle.NewManager(metaStore, dispatcher, publisher)
	resolver := sharing.NewResolver(metaStore, directory)
	service := files.NewService(files.Deps{
		Store:     metaStore,
		Engine:    engine,
		Lifecycle: manager,
		Resolver:  resolver,
		Backends:  dispatcher,
		Settings:  provider,
		Limiter:   rateLimiter,
		Publisher: publisher,
	})
	logging.Info("file service initialized")

	if *statsTenant != "" {
		if err := printStats(ctx, service, *statsTenant); err != nil {
			logging.Fatal("stats failed", zap.Error(err))
		}
		return
	}

	sweeper := lifecycle.NewSweeper(manager, metaStore, provider, lifecycle.SweeperConfig{
		Interval:             cfg.SweepInterval,
		DefaultRetentionDays: cfg.DefaultRetentionDays,
	})

	if *sweepOnce {
		results, err := sweeper.RunNow(ctx)
		if err != nil {
			logging.Fatal("retention sweep failed", zap.Error(err))
		}
		for tenantID, res := range results {
			fmt.Printf("%s\tpurged=%d\tfreed=%d\terrors=%d\n",
				tenantID, res.Count, res.BytesFreed, len(res.Errors))
		}
		return
	}
	sweeper.Start()

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start periodic metrics update
	if pgStore != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pgStore.UpdateConnectionMetrics()
				}
			}
		}()
	}

	// Start periodic rate limiter cleanup
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := rateLimiter.Cleanup(24 * time.Hour); n > 0 {
					logging.Debug("rate limiter buckets cleaned", zap.Int("count", n))
				}
			}
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := sweeper.Stop(shutdownCtx); err != nil {
		logging.Warn("retention sweep did not stop in time", zap.Error(err))
	}
	metricsServer.Shutdown(shutdownCtx)
	logging.Info("shutdown complete", zap.Int("event_subscribers", broadcaster.Count()))
}

// defaultSettings builds process-wide tenant defaults from cfg. The S3
// secret from the environment is shared by every tenant, so it is sealed
// under the nil tenant and the returned cipher knows to open it that way.
func defaultSettings(cfg *config.Config, box *secrets.Box) (settings.Settings, secrets.Cipher, error) {
	s := settings.Defaults()
	s.Storage.Backend = cfg.StorageBackend
	s.Storage.Local = settings.LocalConfig{
		BasePath:  cfg.LocalStoragePath,
		URLPrefix: cfg.LocalURLPrefix,
	}
	s.Limits.MaxFileSize = cfg.MaxUploadSize
	s.Limits.MaxVersionsPerFile = cfg.MaxVersionsPerFile
	if cfg.RetentionDays > 0 {
		days := cfg.RetentionDays
		s.Limits.RetentionDays = &days
	}

	cipher := sharedSecretCipher{Cipher: box}
	if cfg.S3Bucket != "" {
		s.Storage.S3 = settings.S3Config{
			Endpoint:    cfg.S3Endpoint,
			Bucket:      cfg.S3Bucket,
			AccessKeyID: cfg.S3AccessKey,
			Region:      cfg.S3Region,
		}
		if cfg.S3SecretKey != "" {
			sealed, err := box.Encrypt(uuid.Nil, cfg.S3SecretKey)
			if err != nil {
				return settings.Settings{}, nil, fmt.Errorf("seal s3 secret: %w", err)
			}
			s.Storage.S3.EncryptedSecret = sealed
			cipher.shared = sealed
		}
	}
	if err := s.Limits.Validate(); err != nil {
		return settings.Settings{}, nil, err
	}
	return s, cipher, nil
}

// sharedSecretCipher opens the process-wide S3 secret with the nil tenant
// key and everything else with the caller's tenant key.
type sharedSecretCipher struct {
	secrets.Cipher
	shared string
}

func (c sharedSecretCipher) Decrypt(tenantID uuid.UUID, ciphertext string) (string, error) {
	if c.shared != "" && ciphertext == c.shared {
		tenantID = uuid.Nil
	}
	return c.Cipher.Decrypt(tenantID, ciphertext)
}

func printStats(ctx context.Context, service *files.Service, tenant string) error {
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		return fmt.Errorf("tenant id: %w", err)
	}
	stats, err := service.Stats(ctx, tenantID)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
		"../../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
