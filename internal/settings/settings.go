// Package settings exposes per-tenant storage, limit and thumbnail
// configuration. The file core only reads it.
package settings

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/models"
)

// Storage backend selections.
const (
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendHybrid = "hybrid"
)

// Provider is the configuration collaborator consumed by the core.
type Provider interface {
	StorageConfig(ctx context.Context, tenantID uuid.UUID) (StorageConfig, error)
	FileLimits(ctx context.Context, tenantID uuid.UUID) (FileLimits, error)
	ThumbnailConfig(ctx context.Context, tenantID uuid.UUID) (ThumbnailConfig, error)
}

// LocalConfig configures the local disk backend.
type LocalConfig struct {
	BasePath  string `yaml:"base_path" json:"base_path"`
	URLPrefix string `yaml:"url_prefix" json:"url_prefix"`
}

// S3Config configures the object store backend. The secret is only ever
// held encrypted here.
type S3Config struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Bucket          string `yaml:"bucket_name" json:"bucket_name"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	EncryptedSecret string `yaml:"encrypted_secret" json:"encrypted_secret"`
	Region          string `yaml:"region" json:"region"`
}

// Complete reports whether the object store can be used.
func (c S3Config) Complete() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.EncryptedSecret != ""
}

// StorageConfig selects and configures a tenant's backend.
type StorageConfig struct {
	Backend string      `yaml:"backend" json:"backend"`
	Local   LocalConfig `yaml:"local" json:"local"`
	S3      S3Config    `yaml:"s3" json:"s3"`
}

// UseS3 reports whether new content goes to the object store.
func (c StorageConfig) UseS3() bool {
	switch c.Backend {
	case BackendS3, BackendHybrid:
		return c.S3.Complete()
	}
	return false
}

// Redacted returns a copy safe to log or return to callers.
func (c StorageConfig) Redacted() StorageConfig {
	if c.S3.EncryptedSecret != "" {
		c.S3.EncryptedSecret = "***"
	}
	return c
}

// FileLimits bound uploads and history.
type FileLimits struct {
	MaxFileSize        int64    `yaml:"max_file_size" json:"max_file_size"`
	AllowedMimeTypes   []string `yaml:"allowed_mime_types" json:"allowed_mime_types"`
	BlockedMimeTypes   []string `yaml:"blocked_mime_types" json:"blocked_mime_types"`
	MaxVersionsPerFile int      `yaml:"max_versions_per_file" json:"max_versions_per_file"`
	// RetentionDays is nil when soft-deleted files are kept until the sweep default applies.
	RetentionDays *int `yaml:"retention_days" json:"retention_days"`
}

var mimePattern = regexp.MustCompile(`^[a-z]+/[a-z0-9][a-z0-9!#$&\-\^_.+]*$|^\*/\*$|^[a-z]+/\*$`)

// Validate checks MIME filter syntax and numeric bounds.
func (l FileLimits) Validate() error {
	for _, list := range [][]string{l.AllowedMimeTypes, l.BlockedMimeTypes} {
		for _, m := range list {
			if !mimePattern.MatchString(strings.ToLower(m)) {
				return fmt.Errorf("%w: invalid MIME filter %q", models.ErrInvalidArgument, m)
			}
		}
	}
	if l.MaxFileSize < 0 || l.MaxVersionsPerFile < 0 {
		return fmt.Errorf("%w: negative file limit", models.ErrInvalidArgument)
	}
	if l.RetentionDays != nil && *l.RetentionDays < 0 {
		return fmt.Errorf("%w: negative retention_days", models.ErrInvalidArgument)
	}
	return nil
}

// CheckUpload validates an upload's size and MIME type. Blocked types win
// over allowed types; an empty allow list admits everything.
func (l FileLimits) CheckUpload(size int64, mimeType string) error {
	if l.MaxFileSize > 0 && size > l.MaxFileSize {
		return fmt.Errorf("%w: file size %d exceeds limit %d", models.ErrInvalidArgument, size, l.MaxFileSize)
	}
	if matchAny(l.BlockedMimeTypes, mimeType) {
		return fmt.Errorf("%w: MIME type %s is blocked", models.ErrInvalidArgument, mimeType)
	}
	if len(l.AllowedMimeTypes) > 0 && !matchAny(l.AllowedMimeTypes, mimeType) {
		return fmt.Errorf("%w: MIME type %s is not allowed", models.ErrInvalidArgument, mimeType)
	}
	return nil
}

// Retention returns the configured retention window or fallback.
func (l FileLimits) Retention(fallback int) int {
	if l.RetentionDays != nil {
		return *l.RetentionDays
	}
	return fallback
}

func matchAny(patterns []string, mimeType string) bool {
	mimeType = strings.ToLower(mimeType)
	for _, p := range patterns {
		p = strings.ToLower(p)
		switch {
		case p == "*/*":
			return true
		case strings.HasSuffix(p, "/*"):
			if strings.HasPrefix(mimeType, strings.TrimSuffix(p, "*")) {
				return true
			}
		case p == mimeType:
			return true
		}
	}
	return false
}

// ThumbnailConfig holds thumbnail defaults.
type ThumbnailConfig struct {
	DefaultWidth  int   `yaml:"default_width" json:"default_width"`
	DefaultHeight int   `yaml:"default_height" json:"default_height"`
	Quality       int   `yaml:"quality" json:"quality"`
	CacheEnabled  bool  `yaml:"cache_enabled" json:"cache_enabled"`
	MaxCacheSize  int64 `yaml:"max_cache_size" json:"max_cache_size"`
}

// Settings bundles the three sections for one tenant.
type Settings struct {
	Storage    StorageConfig   `yaml:"storage"`
	Limits     FileLimits      `yaml:"limits"`
	Thumbnails ThumbnailConfig `yaml:"thumbnails"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Storage: StorageConfig{
			Backend: BackendLocal,
			Local:   LocalConfig{BasePath: "./storage"},
			S3:      S3Config{Region: "us-east-1"},
		},
		Limits: FileLimits{
			MaxFileSize:        100 * 1024 * 1024,
			MaxVersionsPerFile: 10,
		},
		Thumbnails: ThumbnailConfig{
			DefaultWidth:  300,
			DefaultHeight: 300,
			Quality:       85,
			CacheEnabled:  true,
			MaxCacheSize:  1024 * 1024 * 1024,
		},
	}
}
