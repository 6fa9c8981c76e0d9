package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	doc := `owners:
  alice:
    tracker: "tok_alice"
    calendar: "cal_alice"
  bob:
    tracker: "tok_bob"
`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	alice := store.For("alice")
	if got, _ := alice.Get("tracker"); got != "tok_alice" {
		t.Errorf("alice tracker = %q", got)
	}
	if got, _ := alice.Get("calendar"); got != "cal_alice" {
		t.Errorf("alice calendar = %q", got)
	}
	if got, _ := store.For("bob").Get("tracker"); got != "tok_bob" {
		t.Errorf("bob tracker = %q", got)
	}

	if _, ok := alice.Get("payroll"); ok {
		t.Error("unknown service reported present")
	}
	if set := store.For("mallory"); len(set) != 0 {
		t.Errorf("unknown owner got credentials: %v", set)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file did not error")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("owners: [not a map"), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Error("malformed YAML did not error")
	}
}

func TestForReturnsIndependentCopies(t *testing.T) {
	store := Static{"alice": {"tracker": "tok_alice"}}

	first := store.For("alice")
	first["tracker"] = "overwritten"

	if got, _ := store.For("alice").Get("tracker"); got != "tok_alice" {
		t.Errorf("mutation through one set leaked into the store: %q", got)
	}
}

func TestNilSet(t *testing.T) {
	var s Set
	if v, ok := s.Get("tracker"); ok || v != "" {
		t.Errorf("nil set returned %q, %v", v, ok)
	}
}
