// Package sharing decides who may act on a file and manages the grants
// behind those decisions.
package sharing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/logging"
	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/metrics"
	"github.com/fruitsalade/filecore/internal/models"
)

// Decision sources, used as metric labels.
const (
	sourceOwner        = "owner"
	sourceUser         = "user"
	sourceRole         = "role"
	sourceOrganization = "organization"
	sourceNone         = "none"
	sourceError        = "error"
)

// Store is the metadata the resolver reads and writes.
type Store interface {
	GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*models.LogicalFile, error)
	metadata.GrantStore
}

// Resolver evaluates the owner, user, role, organization cascade.
type Resolver struct {
	store     Store
	directory Directory
}

// NewResolver creates a Resolver.
func NewResolver(store Store, directory Directory) *Resolver {
	return &Resolver{store: store, directory: directory}
}

// visibleFile loads a file that is not soft-deleted.
func (r *Resolver) visibleFile(ctx context.Context, tenantID, fileID uuid.UUID) (*models.LogicalFile, error) {
	f, err := r.store.GetFile(ctx, tenantID, fileID)
	if err != nil {
		return nil, err
	}
	if f.Deleted() {
		return nil, fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
	}
	return f, nil
}

// CheckAction parses action and calls Check.
func (r *Resolver) CheckAction(ctx context.Context, tenantID, fileID, principalID uuid.UUID, action string) (bool, error) {
	a, err := models.ParseAction(action)
	if err != nil {
		return false, err
	}
	return r.Check(ctx, tenantID, fileID, principalID, a)
}

// Check reports whether principalID may perform action on the file. Any
// error yields false.
func (r *Resolver) Check(ctx context.Context, tenantID, fileID, principalID uuid.UUID, action models.Action) (bool, error) {
	if _, err := models.ParseAction(string(action)); err != nil {
		return false, err
	}
	f, err := r.visibleFile(ctx, tenantID, fileID)
	if err != nil {
		metrics.RecordPermissionCheck(false, sourceError)
		return false, err
	}
	p := newPrincipal(r.directory, tenantID, principalID)
	return r.decide(ctx, f, p, action)
}

func (r *Resolver) decide(ctx context.Context, f *models.LogicalFile, p *principal, action models.Action) (bool, error) {
	allowed, source, err := r.evaluate(ctx, f, p, action)
	if err != nil {
		metrics.RecordPermissionCheck(false, sourceError)
		logging.WithContext(ctx).Warn("permission check failed",
			logging.FileID(f.ID), logging.UserID(p.id), logging.Err(err))
		return false, err
	}
	metrics.RecordPermissionCheck(allowed, source)
	return allowed, nil
}

func (r *Resolver) evaluate(ctx context.Context, f *models.LogicalFile, p *principal, action models.Action) (bool, string, error) {
	if f.UploadedBy == p.id {
		return true, sourceOwner, nil
	}

	grants, err := r.store.ListGrants(ctx, f.TenantID, f.ID)
	if err != nil {
		return false, sourceError, fmt.Errorf("load grants for file %s: %w", f.ID, err)
	}
	if len(grants) == 0 {
		return false, sourceNone, nil
	}

	for _, g := range grants {
		if t, ok := g.Target.(models.UserTarget); ok && t.ID == p.id {
			return g.Allows(action), sourceUser, nil
		}
	}

	if hasKind(grants, models.TargetRole) {
		roles, err := p.roles(ctx)
		if err != nil {
			return false, sourceError, err
		}
		for _, g := range grants {
			if t, ok := g.Target.(models.RoleTarget); ok && roles[t.Name] {
				return g.Allows(action), sourceRole, nil
			}
		}
	}

	if hasKind(grants, models.TargetOrganization) {
		org, err := p.organization(ctx)
		if err != nil {
			return false, sourceError, err
		}
		if org != nil {
			for _, g := range grants {
				if t, ok := g.Target.(models.OrganizationTarget); ok && t.ID == *org {
					return g.Allows(action), sourceOrganization, nil
				}
			}
		}
	}

	return false, sourceNone, nil
}

func hasKind(grants []models.Grant, kind string) bool {
	for _, g := range grants {
		if g.Target.Kind() == kind {
			return true
		}
	}
	return false
}

// FilterViewable returns the files principalID may view, preserving order.
// Files whose check errors are dropped.
func (r *Resolver) FilterViewable(ctx context.Context, tenantID, principalID uuid.UUID, files []*models.LogicalFile) []*models.LogicalFile {
	p := newPrincipal(r.directory, tenantID, principalID)
	out := make([]*models.LogicalFile, 0, len(files))
	for _, f := range files {
		if f.Deleted() || f.TenantID != tenantID {
			continue
		}
		if ok, _ := r.decide(ctx, f, p, models.ActionView); ok {
			out = append(out, f)
		}
	}
	return out
}

// ReplaceGrants swaps the file's grants for specs in one transaction and
// returns the stored set.
func (r *Resolver) ReplaceGrants(ctx context.Context, tenantID, fileID uuid.UUID, specs []models.GrantSpec) ([]models.Grant, error) {
	if _, err := r.visibleFile(ctx, tenantID, fileID); err != nil {
		return nil, err
	}

	grants := make([]models.Grant, 0, len(specs))
	for i, s := range specs {
		if s.Target == nil {
			return nil, fmt.Errorf("%w: grant %d has no target", models.ErrInvalidArgument, i)
		}
		// Only targets that read back cleanly may be stored.
		target, err := models.ParseTarget(s.Target.Kind(), s.Target.Key())
		if err != nil {
			return nil, fmt.Errorf("grant %d: %w", i, err)
		}
		grants = append(grants, models.Grant{
			ID:           uuid.New(),
			FileID:       fileID,
			TenantID:     tenantID,
			Target:       target,
			Capabilities: s.Capabilities,
		})
	}

	if err := r.store.ReplaceGrants(ctx, tenantID, fileID, grants); err != nil {
		return nil, fmt.Errorf("replace grants for file %s: %w", fileID, err)
	}
	logging.WithContext(ctx).Debug("replaced grants",
		logging.FileID(fileID), logging.Int("count", len(grants)))
	return grants, nil
}

// ListGrants returns the grants on a visible file.
func (r *Resolver) ListGrants(ctx context.Context, tenantID, fileID uuid.UUID) ([]models.Grant, error) {
	if _, err := r.visibleFile(ctx, tenantID, fileID); err != nil {
		return nil, err
	}
	return r.store.ListGrants(ctx, tenantID, fileID)
}
