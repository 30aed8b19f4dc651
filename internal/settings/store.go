package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/metrics"
	"github.com/fruitsalade/filecore/internal/secrets"
)

const module = "files"

// Setting keys in tenant_settings.
const (
	KeyBackend          = "storage.backend"
	KeyS3Bucket         = "storage.s3.bucket_name"
	KeyS3AccessKeyID    = "storage.s3.access_key_id"
	KeyS3Secret         = "storage.s3.secret_access_key"
	KeyS3Region         = "storage.s3.region"
	KeyS3Endpoint       = "storage.s3.endpoint"
	KeyLocalBasePath    = "storage.local.base_path"
	KeyLocalURLPrefix   = "storage.local.url_prefix"
	KeyMaxFileSize      = "limits.max_file_size"
	KeyAllowedMimeTypes = "limits.allowed_mime_types"
	KeyBlockedMimeTypes = "limits.blocked_mime_types"
	KeyMaxVersions      = "limits.max_versions_per_file"
	KeyRetentionDays    = "limits.retention_days"
	KeyThumbWidth       = "thumbnails.default_width"
	KeyThumbHeight      = "thumbnails.default_height"
	KeyThumbQuality     = "thumbnails.quality"
	KeyThumbCache       = "thumbnails.cache_enabled"
	KeyThumbCacheSize   = "thumbnails.max_cache_size"
)

// Store reads tenant settings from the tenant_settings table, falling back
// to defaults for absent keys.
type Store struct {
	db       *sql.DB
	defaults Settings
	cipher   secrets.Cipher
}

// NewStore creates a settings store.
func NewStore(db *sql.DB, defaults Settings, cipher secrets.Cipher) *Store {
	return &Store{db: db, defaults: defaults, cipher: cipher}
}

func (s *Store) load(ctx context.Context, tenantID uuid.UUID) (map[string]json.RawMessage, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("load_tenant_settings", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM tenant_settings WHERE tenant_id = $1 AND module = $2`,
		tenantID, module)
	if err != nil {
		return nil, fmt.Errorf("load tenant settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan tenant setting: %w", err)
		}
		values[key] = raw
	}
	return values, rows.Err()
}

// decodeInto overwrites dst when key is present and not JSON null.
func decodeInto(values map[string]json.RawMessage, key string, dst any) error {
	raw, ok := values[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

func decodeAll(values map[string]json.RawMessage, fields map[string]any) error {
	for key, dst := range fields {
		if err := decodeInto(values, key, dst); err != nil {
			return err
		}
	}
	return nil
}

// StorageConfig implements Provider. The secret stays encrypted.
func (s *Store) StorageConfig(ctx context.Context, tenantID uuid.UUID) (StorageConfig, error) {
	values, err := s.load(ctx, tenantID)
	if err != nil {
		return StorageConfig{}, err
	}
	cfg := s.defaults.Storage
	err = decodeAll(values, map[string]any{
		KeyBackend:        &cfg.Backend,
		KeyS3Bucket:       &cfg.S3.Bucket,
		KeyS3AccessKeyID:  &cfg.S3.AccessKeyID,
		KeyS3Secret:       &cfg.S3.EncryptedSecret,
		KeyS3Region:       &cfg.S3.Region,
		KeyS3Endpoint:     &cfg.S3.Endpoint,
		KeyLocalBasePath:  &cfg.Local.BasePath,
		KeyLocalURLPrefix: &cfg.Local.URLPrefix,
	})
	return cfg, err
}

// FileLimits implements Provider.
func (s *Store) FileLimits(ctx context.Context, tenantID uuid.UUID) (FileLimits, error) {
	values, err := s.load(ctx, tenantID)
	if err != nil {
		return FileLimits{}, err
	}
	limits := s.defaults.Limits
	err = decodeAll(values, map[string]any{
		KeyMaxFileSize:      &limits.MaxFileSize,
		KeyAllowedMimeTypes: &limits.AllowedMimeTypes,
		KeyBlockedMimeTypes: &limits.BlockedMimeTypes,
		KeyMaxVersions:      &limits.MaxVersionsPerFile,
		KeyRetentionDays:    &limits.RetentionDays,
	})
	return limits, err
}

// ThumbnailConfig implements Provider.
func (s *Store) ThumbnailConfig(ctx context.Context, tenantID uuid.UUID) (ThumbnailConfig, error) {
	values, err := s.load(ctx, tenantID)
	if err != nil {
		return ThumbnailConfig{}, err
	}
	cfg := s.defaults.Thumbnails
	err = decodeAll(values, map[string]any{
		KeyThumbWidth:     &cfg.DefaultWidth,
		KeyThumbHeight:    &cfg.DefaultHeight,
		KeyThumbQuality:   &cfg.Quality,
		KeyThumbCache:     &cfg.CacheEnabled,
		KeyThumbCacheSize: &cfg.MaxCacheSize,
	})
	return cfg, err
}

// Put writes a plain setting. It is the write side used by administration
// tooling; the file core never calls it.
func (s *Store) Put(ctx context.Context, tenantID uuid.UUID, key string, value any) error {
	if key == KeyS3Secret {
		return fmt.Errorf("setting %s must be written with PutSecret", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	return s.put(ctx, tenantID, key, raw)
}

// PutSecret encrypts and stores the object store secret key.
func (s *Store) PutSecret(ctx context.Context, tenantID uuid.UUID, secret string) error {
	enc, err := s.cipher.Encrypt(tenantID, secret)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(enc)
	if err != nil {
		return err
	}
	return s.put(ctx, tenantID, KeyS3Secret, raw)
}

func (s *Store) put(ctx context.Context, tenantID uuid.UUID, key string, raw []byte) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("put_tenant_setting", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_settings (tenant_id, module, key, value, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (tenant_id, module, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		tenantID, module, key, raw)
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}
