package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aadithya-v/geotrack"
)

func TestNewGeoIPEmptyPath(t *testing.T) {
	_, err := NewGeoIP("", "8.8.8.8")
	if !errors.Is(err, ErrGeoIPDatabaseNotConfigured) {
		t.Errorf("expected ErrGeoIPDatabaseNotConfigured, got %v", err)
	}
}

func TestNewGeoIPInvalidIP(t *testing.T) {
	_, err := NewGeoIP("/nonexistent.mmdb", "not-an-ip")
	if !errors.Is(err, ErrInvalidIP) {
		t.Errorf("expected ErrInvalidIP, got %v", err)
	}
}

func TestNewGeoIPMissingFile(t *testing.T) {
	_, err := NewGeoIP(filepath.Join(t.TempDir(), "missing.mmdb"), "")
	if err == nil {
		t.Error("expected error for missing database file")
	}
}

func TestNewGeoIPCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.mmdb")
	if err := os.WriteFile(path, []byte("not a maxmind database"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := NewGeoIP(path, ""); err == nil {
		t.Error("expected error for corrupt database file")
	}
}

func TestNilGeoIP(t *testing.T) {
	var g *GeoIP

	if _, err := g.Lookup("8.8.8.8"); !errors.Is(err, ErrGeoIPDatabaseNotConfigured) {
		t.Errorf("Lookup on nil reader: %v", err)
	}
	if g.Available() {
		t.Error("nil reader should not be available")
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close on nil reader: %v", err)
	}
}

func TestGeoIPSubscribeWithoutIP(t *testing.T) {
	g := &GeoIP{}
	_, err := g.Subscribe(context.Background(), geotrack.Request{})
	if !errors.Is(err, ErrInvalidIP) {
		t.Errorf("expected ErrInvalidIP, got %v", err)
	}
}

func TestGeoIPSubscribeWithoutDatabase(t *testing.T) {
	g := &GeoIP{ip: "8.8.8.8"}
	_, err := g.Subscribe(context.Background(), geotrack.Request{})
	if !errors.Is(err, ErrGeoIPDatabaseNotConfigured) {
		t.Errorf("expected ErrGeoIPDatabaseNotConfigured, got %v", err)
	}
}
