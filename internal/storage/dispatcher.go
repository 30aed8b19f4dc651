package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/filecore/internal/logging"
	"github.com/fruitsalade/filecore/internal/models"
	"github.com/fruitsalade/filecore/internal/secrets"
	"github.com/fruitsalade/filecore/internal/settings"
	"github.com/fruitsalade/filecore/internal/storage/local"
	s3storage "github.com/fruitsalade/filecore/internal/storage/s3"
)

// Resolver hands out the backend to use for a tenant.
type Resolver interface {
	// For returns the backend new content is written to.
	For(ctx context.Context, tenantID uuid.UUID) (Backend, error)
	// ForKind returns the backend holding content recorded with kind.
	ForKind(ctx context.Context, tenantID uuid.UUID, kind string) (Backend, error)
}

// Dispatcher resolves backends from tenant settings on every call. Object
// store credentials are decrypted per resolution and never retained; local
// backends carry no credentials and are reused per root path.
type Dispatcher struct {
	settings settings.Provider
	cipher   secrets.Cipher

	mu     sync.Mutex
	locals map[string]*local.Backend
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(provider settings.Provider, cipher secrets.Cipher) *Dispatcher {
	return &Dispatcher{
		settings: provider,
		cipher:   cipher,
		locals:   make(map[string]*local.Backend),
	}
}

// For implements Resolver.
func (d *Dispatcher) For(ctx context.Context, tenantID uuid.UUID) (Backend, error) {
	cfg, err := d.settings.StorageConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("storage config for tenant %s: %w", tenantID, err)
	}

	switch cfg.Backend {
	case settings.BackendLocal, "":
		return d.local(cfg.Local)
	case settings.BackendS3:
		if !cfg.S3.Complete() {
			logging.Warn("incomplete S3 configuration, falling back to local storage",
				zap.Stringer("tenant_id", tenantID))
			return d.local(cfg.Local)
		}
		return d.objectStore(ctx, tenantID, cfg.S3)
	case settings.BackendHybrid:
		localBackend, err := d.local(cfg.Local)
		if err != nil {
			return nil, err
		}
		var objectStore Backend
		if cfg.UseS3() {
			if objectStore, err = d.objectStore(ctx, tenantID, cfg.S3); err != nil {
				return nil, err
			}
		}
		return NewHybrid(cfg.UseS3(), localBackend, objectStore), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", models.ErrInvalidArgument, cfg.Backend)
	}
}

// ForKind implements Resolver.
func (d *Dispatcher) ForKind(ctx context.Context, tenantID uuid.UUID, kind string) (Backend, error) {
	cfg, err := d.settings.StorageConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("storage config for tenant %s: %w", tenantID, err)
	}

	switch kind {
	case models.BackendLocal:
		return d.local(cfg.Local)
	case models.BackendS3:
		if !cfg.S3.Complete() {
			return nil, fmt.Errorf("tenant %s has s3 content but no complete s3 configuration", tenantID)
		}
		return d.objectStore(ctx, tenantID, cfg.S3)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend kind %q", models.ErrInvalidArgument, kind)
	}
}

func (d *Dispatcher) local(cfg settings.LocalConfig) (Backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := cfg.BasePath + "\x00" + cfg.URLPrefix
	if b, ok := d.locals[key]; ok {
		return b, nil
	}
	b, err := local.New(local.Config{
		RootPath:   cfg.BasePath,
		CreateDirs: true,
		URLPrefix:  cfg.URLPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	d.locals[key] = b
	return b, nil
}

func (d *Dispatcher) objectStore(ctx context.Context, tenantID uuid.UUID, cfg settings.S3Config) (Backend, error) {
	secret, err := d.cipher.Decrypt(tenantID, cfg.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt s3 secret for tenant %s: %w", tenantID, err)
	}
	b, err := s3storage.New(ctx, s3storage.Config{
		Endpoint:  cfg.Endpoint,
		Bucket:    cfg.Bucket,
		AccessKey: cfg.AccessKeyID,
		SecretKey: secret,
		Region:    cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 backend: %w", err)
	}
	return b, nil
}

// Close releases cached local backends.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, b := range d.locals {
		b.Close()
		delete(d.locals, key)
	}
	return nil
}
