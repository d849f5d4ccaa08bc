package kv

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if _, ok, err := store.Get("history.layout"); ok || err != nil {
		t.Fatalf("Get(missing) = ok %v, err %v; want false, nil", ok, err)
	}
	if err := store.Set("history.layout", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set("history.layout", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, ok, err := store.Get("history.layout")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if got, want := string(got), `{"v":2}`; got != want {
		t.Fatalf("Get() = %s; want %s", got, want)
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if want := []string{"history.layout"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("Keys() = %v; want %v (no temp files left)", keys, want)
	}

	if err := store.Delete("history.layout"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete("history.layout"); err != nil {
		t.Fatalf("Delete(missing) error = %v; want nil", err)
	}
	if _, ok, _ := store.Get("history.layout"); ok {
		t.Fatalf("Get() after Delete ok = true")
	}
}

func TestFileStoreRejectsUnsafeKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	for _, key := range []string{"", "../escape", "a/b", ".hidden", "x..y"} {
		if err := store.Set(key, []byte("1")); err == nil {
			t.Fatalf("Set(%q) error = nil; want invalid key", key)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("directory has %d entries; want 0", len(entries))
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	m := NewMemoryStore()
	v := []byte("abc")
	if err := m.Set("k", v); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v[0] = 'z'
	got, ok, _ := m.Get("k")
	if !ok || string(got) != "abc" {
		t.Fatalf("Get() = %q, %v; want abc, true", got, ok)
	}
}
