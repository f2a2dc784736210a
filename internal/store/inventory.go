package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ispctl/internal/model"
)

// Inventory is the YAML seed file for routers and clients.
type Inventory struct {
	UpdatedAt time.Time      `yaml:"updated_at"`
	Routers   []model.Router `yaml:"routers"`
	Clients   []model.Client `yaml:"clients"`
}

// ImportResult counts what an import wrote.
type ImportResult struct {
	Routers int `json:"routers"`
	Clients int `json:"clients"`
}

// LoadInventory loads the inventory from disk. If the file is missing, returns an empty inventory.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Inventory{}, nil
		}
		return nil, err
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, err
	}

	return &inv, nil
}

// SaveInventory writes the inventory to disk. It carries router credentials,
// so the file is owner-only.
func SaveInventory(path string, inv *Inventory) error {
	if inv == nil {
		return nil
	}
	inv.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(inv)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// ExportInventory snapshots the store into an Inventory.
func (s *Store) ExportInventory(ctx context.Context) (*Inventory, error) {
	routers, err := s.ListRouters(ctx)
	if err != nil {
		return nil, err
	}
	clients, err := s.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	return &Inventory{Routers: routers, Clients: clients}, nil
}

// Import validates every entry first and writes only when all are valid.
// Existing entries with the same id are overwritten; a client whose status
// is already stored keeps it, so reimporting never undoes a suspension.
func (s *Store) Import(ctx context.Context, inv *Inventory) (ImportResult, error) {
	var res ImportResult
	if inv == nil {
		return res, nil
	}

	routerIDs := make(map[int64]bool, len(inv.Routers))
	for i := range inv.Routers {
		r := &inv.Routers[i]
		r.ApplyDefaults()
		if err := r.Validate(); err != nil {
			return res, err
		}
		if routerIDs[r.ID] {
			return res, fmt.Errorf("%w: duplicate router id %d", model.ErrValidation, r.ID)
		}
		routerIDs[r.ID] = true
	}

	now := time.Now().UTC()
	clientIDs := make(map[int64]bool, len(inv.Clients))
	for i := range inv.Clients {
		c := &inv.Clients[i]
		c.ApplyDefaults()
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if err := c.Validate(); err != nil {
			return res, err
		}
		if clientIDs[c.ID] {
			return res, fmt.Errorf("%w: duplicate client id %d", model.ErrValidation, c.ID)
		}
		clientIDs[c.ID] = true
	}

	for _, r := range inv.Routers {
		if err := s.PutRouter(ctx, r); err != nil {
			return res, err
		}
		res.Routers++
	}
	for _, c := range inv.Clients {
		existing, err := s.GetClient(ctx, c.ID)
		switch {
		case err == nil:
			c.Status = existing.Status
			c.CreatedAt = existing.CreatedAt
		case !errors.Is(err, ErrNotFound):
			return res, err
		}
		if err := s.PutClient(ctx, c); err != nil {
			return res, err
		}
		res.Clients++
	}
	return res, nil
}
