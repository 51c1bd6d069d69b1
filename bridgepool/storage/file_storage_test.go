package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"torrer/bridgepool/model"
)

func mustBridge(t *testing.T, line string) model.Bridge {
	t.Helper()
	b, err := model.ParseBridge(line)
	if err != nil {
		t.Fatalf("ParseBridge(%q): %v", line, err)
	}
	return b
}

func TestFileStorage_EmptyWhenMissing(t *testing.T) {
	fs := NewFileStorage(filepath.Join(t.TempDir(), "nested", "bridges.conf"))
	bridges, err := fs.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(bridges) != 0 {
		t.Errorf("Expected empty store, got %v", bridges)
	}
}

func TestFileStorage_AddListRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bridges.conf")
	fs := NewFileStorage(path)

	a := mustBridge(t, "1.2.3.4:443 0123456789ABCDEF0123456789ABCDEF01234567 obfs4")
	b := mustBridge(t, "5.6.7.8:9001")

	if err := fs.Add(a); err != nil {
		t.Fatalf("Add(a) error: %v", err)
	}
	if err := fs.Add(b); err != nil {
		t.Fatalf("Add(b) error: %v", err)
	}

	bridges, err := fs.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(bridges) != 2 || bridges[0] != a || bridges[1] != b {
		t.Fatalf("Expected [a b] in insertion order, got %+v", bridges)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# torrer bridge configuration\n") {
		t.Errorf("Missing header in %q", data)
	}
	if !strings.Contains(string(data), a.String()+"\n") {
		t.Errorf("Expected canonical line %q in %q", a.String(), data)
	}

	if err := fs.Remove("1.2.3.4", 443); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	bridges, _ = fs.List()
	if len(bridges) != 1 || bridges[0] != b {
		t.Errorf("Expected only b after removal, got %+v", bridges)
	}
}

func TestFileStorage_Duplicates(t *testing.T) {
	fs := NewFileStorage(filepath.Join(t.TempDir(), "bridges.conf"))
	if err := fs.Add(mustBridge(t, "1.2.3.4:443")); err != nil {
		t.Fatal(err)
	}
	// Same endpoint with different fingerprint and transport is still a duplicate.
	err := fs.Add(mustBridge(t, "1.2.3.4:443 ABCD obfs4"))
	if !errors.Is(err, ErrBridgeExists) {
		t.Errorf("Expected ErrBridgeExists, got %v", err)
	}
}

func TestFileStorage_RemoveMissing(t *testing.T) {
	fs := NewFileStorage(filepath.Join(t.TempDir(), "bridges.conf"))
	if err := fs.Remove("9.9.9.9", 443); !errors.Is(err, ErrBridgeNotFound) {
		t.Errorf("Expected ErrBridgeNotFound, got %v", err)
	}
}

func TestFileStorage_SkipsCommentsAndMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridges.conf")
	content := "# torrer bridge configuration\n" +
		"\n" +
		"# a comment\n" +
		"Bridge 1.2.3.4:443\n" +
		"this is not a bridge\n" +
		"Bridge 1.2.3.4:99999\n" +
		"5.6.7.8:80 ABCD\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	bridges, err := NewFileStorage(path).List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(bridges) != 2 {
		t.Fatalf("Expected 2 valid bridges, got %+v", bridges)
	}
	if bridges[1].Fingerprint != "ABCD" {
		t.Errorf("Expected non-standard fingerprint to be kept, got %+v", bridges[1])
	}
}

func TestReadFromTorrc(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrc")
	content := "SocksPort 9050\n" +
		"UseBridges 1\n" +
		"ClientTransportPlugin obfs4 exec /usr/bin/obfs4proxy\n" +
		"Bridge 1.2.3.4:443 0123456789ABCDEF0123456789ABCDEF01234567\n" +
		"#Bridge 9.9.9.9:443\n" +
		"Bridge broken\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	bridges, err := ReadFromTorrc(path)
	if err != nil {
		t.Fatalf("ReadFromTorrc() error: %v", err)
	}
	if len(bridges) != 1 || bridges[0].Key() != "1.2.3.4:443" {
		t.Errorf("Unexpected bridges %+v", bridges)
	}
}
