package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	store, err := New(path, "testapp")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := store.Set("google_credential", `{"accessToken":"at"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, ok, err := store.Get("google_credential")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if value != `{"accessToken":"at"}` {
		t.Errorf("value = %q", value)
	}

	if _, ok, _ := store.Get("missing"); ok {
		t.Error("absent key reported as present")
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")

	store, err := New(path, "testapp")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Set("auth_state", `{"provider":"google"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := New(path, "testapp")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	value, ok, err := reopened.Get("auth_state")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if value != `{"provider":"google"}` {
		t.Errorf("value = %q", value)
	}
}

func TestRemoveAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	store, err := New(path, "testapp")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_ = store.Set("a", "1")
	_ = store.Set("b", "2")

	if err := store.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := store.Get("a"); ok {
		t.Error("removed key still present")
	}
	if err := store.Remove("a"); err != nil {
		t.Errorf("removing an absent key must be a no-op, got %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := store.Get("b"); ok {
		t.Error("Clear left records behind")
	}
}

func TestClearKeepsForeignNamespaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")

	first, err := New(path, "appone")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = first.Set("auth_state", "one")

	second, err := New(path, "apptwo")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = second.Set("auth_state", "two")

	if err := second.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	reopened, err := New(path, "appone")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok, _ := reopened.Get("auth_state"); !ok {
		t.Error("clearing one namespace wiped another")
	}
}

func TestFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	path := filepath.Join(t.TempDir(), "nested", "auth.json")
	store, err := New(path, "testapp")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 0600", perm)
	}
}
