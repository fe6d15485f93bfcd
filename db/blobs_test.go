package db

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func openTestDB(t *testing.T, capacityBytes int64) *DB {
	t.Helper()

	d, err := Open(filepath.Join(t.TempDir(), "test.sqlite"), capacityBytes)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestBlobRoundtrip(t *testing.T) {
	d := openTestDB(t, 1<<20)

	if _, found, err := d.GetBlob("missing"); err != nil || found {
		t.Errorf("missing key: found=%v err=%v", found, err)
	}

	if err := d.PutBlob("k", "hello"); err != nil {
		t.Fatalf("put: %v", err)
	}

	value, found, err := d.GetBlob("k")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if value != "hello" {
		t.Errorf("value = %q, want %q", value, "hello")
	}

	if err := d.PutBlob("k", "world!"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, _, _ = d.GetBlob("k")
	if value != "world!" {
		t.Errorf("overwritten value = %q", value)
	}
}

func TestPutBlobCapacity(t *testing.T) {
	d := openTestDB(t, 100)

	if err := d.PutBlob("a", strings.Repeat("x", 60)); err != nil {
		t.Fatalf("put within capacity: %v", err)
	}

	err := d.PutBlob("b", strings.Repeat("y", 50))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	// The rejected write must not land
	if _, found, _ := d.GetBlob("b"); found {
		t.Error("rejected blob was written anyway")
	}

	used, err := d.UsedBytes()
	if err != nil {
		t.Fatalf("used: %v", err)
	}
	if used != 60 {
		t.Errorf("used = %d, want 60", used)
	}
}

func TestPutBlobOverwriteChargedForNewValueOnly(t *testing.T) {
	d := openTestDB(t, 100)

	if err := d.PutBlob("k", strings.Repeat("x", 90)); err != nil {
		t.Fatalf("put: %v", err)
	}

	// 90 used, but overwriting the same key with 95 bytes replaces it
	if err := d.PutBlob("k", strings.Repeat("y", 95)); err != nil {
		t.Errorf("overwrite within capacity rejected: %v", err)
	}

	if err := d.PutBlob("k", strings.Repeat("z", 150)); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("oversized overwrite: expected ErrCapacityExceeded, got %v", err)
	}
}

func TestDeleteBlobFreesSpace(t *testing.T) {
	d := openTestDB(t, 100)

	if err := d.PutBlob("a", strings.Repeat("x", 80)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := d.DeleteBlob("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := d.PutBlob("b", strings.Repeat("y", 80)); err != nil {
		t.Errorf("put after delete should fit: %v", err)
	}
}

func TestSettingsRoundtrip(t *testing.T) {
	d := openTestDB(t, 1<<20)

	if err := d.SetSetting("log_level", "debug"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := d.GetSetting("log_level")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "debug" {
		t.Errorf("value = %q, want debug", value)
	}

	all, err := d.GetAllSettings()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if all["log_level"] != "debug" {
		t.Errorf("GetAllSettings missing written key: %v", all)
	}
}

func TestMigrationsApplied(t *testing.T) {
	d := openTestDB(t, 1<<20)

	version, err := d.CurrentVersion()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version < 1 {
		t.Errorf("schema version = %d, want at least 1", version)
	}
}
