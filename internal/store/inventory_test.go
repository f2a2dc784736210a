package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ispctl/internal/model"
)

func TestLoadInventory_MissingFile_ReturnsEmpty(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "inventory.yaml")
	inv, err := LoadInventory(path)
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	if inv == nil {
		t.Fatalf("inventory is nil")
	}
	if len(inv.Routers) != 0 || len(inv.Clients) != 0 {
		t.Fatalf("routers=%d clients=%d", len(inv.Routers), len(inv.Clients))
	}
}

func TestSaveInventory_RoundTrip(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "inventory.yaml")

	in := &Inventory{
		Routers: []model.Router{{ID: 1, Name: "core", Address: "192.0.2.1", Password: "s3cret"}},
		Clients: []model.Client{{ID: 7, Name: "ana", IPAddress: "10.0.0.7", RouterID: 1}},
	}
	if err := SaveInventory(path, in); err != nil {
		t.Fatalf("SaveInventory: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	out, err := LoadInventory(path)
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	if len(out.Routers) != 1 || len(out.Clients) != 1 {
		t.Fatalf("routers=%d clients=%d", len(out.Routers), len(out.Clients))
	}
	if out.Routers[0].Password != "s3cret" {
		t.Fatalf("router=%+v", out.Routers[0])
	}
	if out.Clients[0].RouterID != 1 || out.Clients[0].IPAddress != "10.0.0.7" {
		t.Fatalf("client=%+v", out.Clients[0])
	}
	if out.UpdatedAt.IsZero() {
		t.Fatalf("updated_at not set")
	}
}

func TestImport_AppliesDefaultsAndKeepsStatus(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	inv := &Inventory{
		Routers: []model.Router{{ID: 1, Name: "core", Address: "192.0.2.1"}},
		Clients: []model.Client{{ID: 7, Name: "ana", IPAddress: "10.0.0.7", RouterID: 1}},
	}
	res, err := s.Import(ctx, inv)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Routers != 1 || res.Clients != 1 {
		t.Fatalf("res=%+v", res)
	}

	r, err := s.GetRouter(ctx, 1)
	if err != nil {
		t.Fatalf("GetRouter: %v", err)
	}
	if r.Port != model.DefaultAPIPort {
		t.Fatalf("port=%d", r.Port)
	}

	if err := s.SetClientStatus(ctx, 7, model.ClientSuspended); err != nil {
		t.Fatalf("SetClientStatus: %v", err)
	}
	if _, err := s.Import(ctx, inv); err != nil {
		t.Fatalf("reimport: %v", err)
	}
	c, err := s.GetClient(ctx, 7)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if c.Status != model.ClientSuspended {
		t.Fatalf("status=%q", c.Status)
	}
	if c.LimitUpload != "5M" || c.BillingDay != 1 {
		t.Fatalf("client=%+v", c)
	}
}

func TestImport_RejectsInvalidBeforeWriting(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	inv := &Inventory{
		Routers: []model.Router{{ID: 1, Name: "core", Address: "192.0.2.1"}},
		Clients: []model.Client{{ID: 7, Name: "ana", IPAddress: "not-an-ip"}},
	}
	if _, err := s.Import(ctx, inv); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err=%v", err)
	}
	routers, err := s.ListRouters(ctx)
	if err != nil {
		t.Fatalf("ListRouters: %v", err)
	}
	if len(routers) != 0 {
		t.Fatalf("routers=%d", len(routers))
	}
}
