package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryModuleStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	first, err := store.SaveModule(ctx, ModuleRecord{ID: "news", Version: "1.0.0", Enabled: true})
	if err != nil {
		t.Fatalf("SaveModule: %v", err)
	}
	if first.InstalledAt.IsZero() || first.UpdatedAt.IsZero() {
		t.Fatal("timestamps should be set")
	}

	time.Sleep(2 * time.Millisecond)
	second, err := store.SaveModule(ctx, ModuleRecord{ID: "news", Version: "1.1.0", Enabled: false})
	if err != nil {
		t.Fatalf("SaveModule update: %v", err)
	}
	if !second.InstalledAt.Equal(first.InstalledAt) {
		t.Error("InstalledAt should survive updates")
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Error("UpdatedAt should advance")
	}

	if _, err := store.SaveModule(ctx, ModuleRecord{ID: "auth", Version: "1.0.0", Enabled: true}); err != nil {
		t.Fatalf("SaveModule auth: %v", err)
	}

	list, _ := store.ListModules(ctx)
	if len(list) != 2 || list[0].ID != "auth" || list[1].ID != "news" {
		t.Fatalf("ListModules = %+v", list)
	}

	got, err := store.GetModule(ctx, "news")
	if err != nil || got.Version != "1.1.0" || got.Enabled {
		t.Fatalf("GetModule = %+v, %v", got, err)
	}

	if err := store.DeleteModule(ctx, "news"); err != nil {
		t.Fatalf("DeleteModule: %v", err)
	}
	if _, err := store.GetModule(ctx, "news"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetModule after delete err = %v", err)
	}
	if err := store.DeleteModule(ctx, "news"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteModule twice err = %v", err)
	}
}
