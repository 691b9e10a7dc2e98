package rbac

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lib/pq"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/dealflow/pkg/auth"
	"github.com/platinummonkey/dealflow/pkg/database"
)

//go:embed seed.yaml
var defaultCatalog []byte

// Catalog is the seed definition of permissions and role grants
type Catalog struct {
	Groups []CatalogGroup `yaml:"groups"`
	Roles  []CatalogRole  `yaml:"roles"`
}

// CatalogGroup is a permission category
type CatalogGroup struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// CatalogRole is a role and the permissions granted to it
type CatalogRole struct {
	Name           string   `yaml:"name"`
	Label          string   `yaml:"label"`
	AllPermissions bool     `yaml:"all_permissions"`
	Permissions    []string `yaml:"permissions"`
}

// CatalogResult summarizes an applied catalog
type CatalogResult struct {
	Permissions int `json:"permissions"`
	Roles       int `json:"roles"`
	Grants      int `json:"grants"`
}

// DefaultCatalog returns the embedded catalog
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog))
}

// LoadCatalogFile reads a catalog from path, or the embedded default when
// path is empty
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// LoadCatalog parses and validates a YAML catalog
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that names are present and unique and that every grant
// names a permission defined in some group
func (c *Catalog) Validate() error {
	defined := make(map[string]bool)
	for _, g := range c.Groups {
		if strings.TrimSpace(g.Name) == "" {
			return fmt.Errorf("catalog group without a name")
		}
		for _, p := range g.Permissions {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("catalog group %q has an empty permission", g.Name)
			}
			if defined[p] {
				return fmt.Errorf("permission %q defined more than once", p)
			}
			defined[p] = true
		}
	}

	roles := make(map[string]bool)
	for _, r := range c.Roles {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("catalog role without a name")
		}
		if roles[r.Name] {
			return fmt.Errorf("role %q defined more than once", r.Name)
		}
		roles[r.Name] = true
		for _, p := range r.Permissions {
			if !defined[p] {
				return fmt.Errorf("role %q grants undefined permission %q", r.Name, p)
			}
		}
	}
	return nil
}

// PermissionNames returns every permission in the catalog in group order
func (c *Catalog) PermissionNames() []string {
	var names []string
	for _, g := range c.Groups {
		names = append(names, g.Permissions...)
	}
	return names
}

// ApplyCatalog upserts the catalog in one transaction. Running it twice is a
// no-op. Grants are additive, so permissions granted by hand survive a
// re-seed; super_admin is always given every permission.
func (s *Store) ApplyCatalog(ctx context.Context, c *Catalog) (*CatalogResult, error) {
	result := &CatalogResult{}
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, g := range c.Groups {
			for _, name := range g.Permissions {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO permissions (name, label, group_name)
					VALUES ($1, $2, $3)
					ON CONFLICT (name) DO UPDATE
					SET group_name = EXCLUDED.group_name, updated_at = NOW()
				`, name, defaultLabel(name), g.Name); err != nil {
					return fmt.Errorf("failed to upsert permission %q: %w", name, err)
				}
				result.Permissions++
			}
		}

		for _, r := range c.Roles {
			label := r.Label
			if label == "" {
				label = defaultLabel(r.Name)
			}
			var roleID int64
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO roles (name, label)
				VALUES ($1, $2)
				ON CONFLICT (name) DO UPDATE
				SET label = EXCLUDED.label, updated_at = NOW()
				RETURNING id
			`, r.Name, label).Scan(&roleID); err != nil {
				return fmt.Errorf("failed to upsert role %q: %w", r.Name, err)
			}
			result.Roles++

			var (
				res sql.Result
				err error
			)
			if r.AllPermissions || r.Name == auth.RoleSuperAdmin {
				res, err = tx.ExecContext(ctx, `
					INSERT INTO role_permissions (role_id, permission_id)
					SELECT $1, id FROM permissions
					ON CONFLICT DO NOTHING
				`, roleID)
			} else {
				res, err = tx.ExecContext(ctx, `
					INSERT INTO role_permissions (role_id, permission_id)
					SELECT $1, id FROM permissions WHERE name = ANY($2)
					ON CONFLICT DO NOTHING
				`, roleID, pq.Array(r.Permissions))
			}
			if err != nil {
				return fmt.Errorf("failed to grant permissions to %q: %w", r.Name, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				result.Grants += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
