package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ispctl/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RoutersOrderedAndDeletable(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []int64{12, 2, 1} {
		if err := s.PutRouter(ctx, model.Router{ID: id, Name: "r", Address: "192.0.2.1"}); err != nil {
			t.Fatalf("PutRouter: %v", err)
		}
	}
	routers, err := s.ListRouters(ctx)
	if err != nil {
		t.Fatalf("ListRouters: %v", err)
	}
	if len(routers) != 3 || routers[0].ID != 1 || routers[2].ID != 12 {
		t.Fatalf("routers=%+v", routers)
	}

	if err := s.DeleteRouter(ctx, 2); err != nil {
		t.Fatalf("DeleteRouter: %v", err)
	}
	if _, err := s.GetRouter(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestStore_SetClientStatus_Unknown(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.SetClientStatus(context.Background(), 99, model.ClientSuspended); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestStore_InsertPayment(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if err := s.PutClient(ctx, model.Client{ID: 1, Name: "ana", IPAddress: "10.0.0.2"}); err != nil {
		t.Fatalf("PutClient: %v", err)
	}
	// Client 11 shares a key prefix with client 1 and must not leak into its listing.
	if err := s.PutClient(ctx, model.Client{ID: 11, Name: "bea", IPAddress: "10.0.0.11"}); err != nil {
		t.Fatalf("PutClient: %v", err)
	}

	mar := model.MustParseYearMonth("2025-03")
	jan := model.MustParseYearMonth("2025-01")
	for _, p := range []model.Payment{
		{ID: "a", ClientID: 1, Month: mar, Amount: 10, RecordedAt: time.Now()},
		{ID: "b", ClientID: 1, Month: jan, Amount: 10, RecordedAt: time.Now()},
		{ID: "c", ClientID: 11, Month: jan, Amount: 10, RecordedAt: time.Now()},
	} {
		if err := s.InsertPayment(ctx, p); err != nil {
			t.Fatalf("InsertPayment(%s): %v", p.ID, err)
		}
	}

	err := s.InsertPayment(ctx, model.Payment{ID: "d", ClientID: 1, Month: mar, Amount: 5})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate err=%v", err)
	}
	err = s.InsertPayment(ctx, model.Payment{ID: "e", ClientID: 2, Month: mar, Amount: 5})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown client err=%v", err)
	}

	list, err := s.ListPayments(ctx, 1)
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if len(list) != 2 || list[0].Month != jan || list[1].Month != mar {
		t.Fatalf("list=%+v", list)
	}

	p, err := s.GetPayment(ctx, 1, mar)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if p.ID != "a" {
		t.Fatalf("payment=%+v", p)
	}
}

func TestStore_InsertPayment_ConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if err := s.PutClient(ctx, model.Client{ID: 1, Name: "ana", IPAddress: "10.0.0.2"}); err != nil {
		t.Fatalf("PutClient: %v", err)
	}

	month := model.MustParseYearMonth("2025-06")
	const n = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ok  int
		dup int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InsertPayment(ctx, model.Payment{ClientID: 1, Month: month, Amount: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrExists):
				dup++
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Fatalf("ok=%d dup=%d", ok, dup)
	}
	list, err := s.ListPayments(ctx, 1)
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("payments=%d", len(list))
	}
}

func TestStore_Settings(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if err := s.PutSettings(ctx, map[string]string{"grace_days": "5", "suspension_method": "both"}); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}
	got, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if len(got) != 2 || got["grace_days"] != "5" || got["suspension_method"] != "both" {
		t.Fatalf("settings=%v", got)
	}
}

func TestStore_CanceledContext(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ListClients(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}
