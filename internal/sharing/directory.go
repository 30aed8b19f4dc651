package sharing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Directory supplies the attributes of a principal that grants match on.
// Tenant, user and role administration live outside this module.
type Directory interface {
	Roles(ctx context.Context, tenantID, userID uuid.UUID) ([]string, error)
	// Organization returns nil when the user belongs to none.
	Organization(ctx context.Context, tenantID, userID uuid.UUID) (*uuid.UUID, error)
}

// principal memoizes directory lookups for one check or batch.
type principal struct {
	dir      Directory
	tenantID uuid.UUID
	id       uuid.UUID

	roleSet   map[string]bool
	rolesErr  error
	rolesDone bool

	org     *uuid.UUID
	orgErr  error
	orgDone bool
}

func newPrincipal(dir Directory, tenantID, id uuid.UUID) *principal {
	return &principal{dir: dir, tenantID: tenantID, id: id}
}

func (p *principal) roles(ctx context.Context) (map[string]bool, error) {
	if !p.rolesDone {
		p.rolesDone = true
		p.roleSet = make(map[string]bool)
		if p.dir != nil {
			names, err := p.dir.Roles(ctx, p.tenantID, p.id)
			if err != nil {
				p.rolesErr = fmt.Errorf("load roles for user %s: %w", p.id, err)
			}
			for _, n := range names {
				p.roleSet[n] = true
			}
		}
	}
	return p.roleSet, p.rolesErr
}

func (p *principal) organization(ctx context.Context) (*uuid.UUID, error) {
	if !p.orgDone {
		p.orgDone = true
		if p.dir != nil {
			p.org, p.orgErr = p.dir.Organization(ctx, p.tenantID, p.id)
			if p.orgErr != nil {
				p.orgErr = fmt.Errorf("load organization for user %s: %w", p.id, p.orgErr)
			}
		}
	}
	return p.org, p.orgErr
}

// DirectoryStore reads roles and organizations from PostgreSQL.
type DirectoryStore struct {
	db *sql.DB
}

// NewDirectoryStore creates a DirectoryStore.
func NewDirectoryStore(db *sql.DB) *DirectoryStore {
	return &DirectoryStore{db: db}
}

// Roles returns the role names held by a user.
func (s *DirectoryStore) Roles(ctx context.Context, tenantID, userID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_name FROM user_roles WHERE tenant_id = $1 AND user_id = $2 ORDER BY role_name`,
		tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

// Organization returns the user's organization, if any.
func (s *DirectoryStore) Organization(ctx context.Context, tenantID, userID uuid.UUID) (*uuid.UUID, error) {
	var org uuid.NullUUID
	err := s.db.QueryRowContext(ctx,
		`SELECT organization_id FROM users WHERE tenant_id = $1 AND id = $2`,
		tenantID, userID).Scan(&org)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !org.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org.UUID, nil
}

// StaticDirectory is an in-memory Directory.
type StaticDirectory struct {
	mu    sync.RWMutex
	roles map[uuid.UUID][]string
	orgs  map[uuid.UUID]uuid.UUID
}

// NewStaticDirectory creates an empty StaticDirectory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		roles: make(map[uuid.UUID][]string),
		orgs:  make(map[uuid.UUID]uuid.UUID),
	}
}

// SetRoles replaces a user's roles.
func (d *StaticDirectory) SetRoles(userID uuid.UUID, roles ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[userID] = roles
}

// SetOrganization assigns a user to an organization.
func (d *StaticDirectory) SetOrganization(userID, orgID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orgs[userID] = orgID
}

// Roles implements Directory.
func (d *StaticDirectory) Roles(_ context.Context, _, userID uuid.UUID) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.roles[userID]...), nil
}

// Organization implements Directory.
func (d *StaticDirectory) Organization(_ context.Context, _, userID uuid.UUID) (*uuid.UUID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if org, ok := d.orgs[userID]; ok {
		return &org, nil
	}
	return nil, nil
}
