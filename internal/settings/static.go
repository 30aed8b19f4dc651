package settings

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Static serves process-wide defaults with optional per-tenant overrides.
// It is immutable after construction.
type Static struct {
	defaults Settings
	tenants  map[uuid.UUID]Settings
}

// NewStatic creates a provider that returns defaults for every tenant.
func NewStatic(defaults Settings) *Static {
	return &Static{defaults: defaults, tenants: make(map[uuid.UUID]Settings)}
}

// LoadStatic reads per-tenant overrides from a YAML file of the form
//
//	tenants:
//	  <tenant-uuid>:
//	    storage: {backend: s3, s3: {bucket_name: ..., ...}}
//	    limits: {max_file_size: 1048576}
//
// Keys absent for a tenant keep the default value.
func LoadStatic(defaults Settings, path string) (*Static, error) {
	s := NewStatic(defaults)
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant settings %s: %w", path, err)
	}
	if err := s.parse(data); err != nil {
		return nil, fmt.Errorf("parse tenant settings %s: %w", path, err)
	}
	return s, nil
}

func (s *Static) parse(data []byte) error {
	var doc struct {
		Tenants map[string]yaml.Node `yaml:"tenants"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}

	for key, node := range doc.Tenants {
		id, err := uuid.Parse(key)
		if err != nil {
			return fmt.Errorf("tenant key %q: %w", key, err)
		}
		merged := s.defaults
		merged.Limits.AllowedMimeTypes = append([]string(nil), s.defaults.Limits.AllowedMimeTypes...)
		merged.Limits.BlockedMimeTypes = append([]string(nil), s.defaults.Limits.BlockedMimeTypes...)
		if err := node.Decode(&merged); err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
		if err := merged.Limits.Validate(); err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
		s.tenants[id] = merged
	}
	return nil
}

// WithTenant returns a copy of s with t configured for tenantID.
func (s *Static) WithTenant(tenantID uuid.UUID, t Settings) *Static {
	out := NewStatic(s.defaults)
	for id, v := range s.tenants {
		out.tenants[id] = v
	}
	out.tenants[tenantID] = t
	return out
}

func (s *Static) lookup(tenantID uuid.UUID) Settings {
	if t, ok := s.tenants[tenantID]; ok {
		return t
	}
	return s.defaults
}

// StorageConfig implements Provider.
func (s *Static) StorageConfig(_ context.Context, tenantID uuid.UUID) (StorageConfig, error) {
	return s.lookup(tenantID).Storage, nil
}

// FileLimits implements Provider.
func (s *Static) FileLimits(_ context.Context, tenantID uuid.UUID) (FileLimits, error) {
	return s.lookup(tenantID).Limits, nil
}

// ThumbnailConfig implements Provider.
func (s *Static) ThumbnailConfig(_ context.Context, tenantID uuid.UUID) (ThumbnailConfig, error) {
	return s.lookup(tenantID).Thumbnails, nil
}
