package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aadithya-v/geotrack"
	"github.com/oschwald/geoip2-golang"
)

var (
	// ErrGeoIPDatabaseNotConfigured is returned when a GeoIP source is
	// created without a database path.
	ErrGeoIPDatabaseNotConfigured = errors.New("geoip: database path not configured")

	// ErrGeoIPLookupFailed is returned when IP geolocation lookup fails.
	ErrGeoIPLookupFailed = errors.New("geoip: lookup failed")

	// ErrInvalidIP is returned when an invalid IP address is provided.
	ErrInvalidIP = errors.New("geoip: invalid IP address")
)

// GeoIP is a coarse fix source that resolves a fixed IP address through a
// MaxMind GeoLite2-City database and reports it at the requested interval.
type GeoIP struct {
	db   *geoip2.Reader
	path string
	ip   string
}

// NewGeoIP opens a MaxMind GeoLite2-City database. ip is the address to
// track; it may be empty if the source is only used through Lookup.
func NewGeoIP(dbPath, ip string) (*GeoIP, error) {
	if dbPath == "" {
		return nil, ErrGeoIPDatabaseNotConfigured
	}
	if ip != "" && net.ParseIP(ip) == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("geoip: failed to open database: %w", err)
	}

	return &GeoIP{
		db:   db,
		path: dbPath,
		ip:   ip,
	}, nil
}

// Lookup returns the location of an IP address as a fix.
func (g *GeoIP) Lookup(ip string) (geotrack.Fix, error) {
	if g == nil || g.db == nil {
		return geotrack.Fix{}, ErrGeoIPDatabaseNotConfigured
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return geotrack.Fix{}, fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}

	record, err := g.db.City(parsed)
	if err != nil {
		return geotrack.Fix{}, fmt.Errorf("%w: %v", ErrGeoIPLookupFailed, err)
	}
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return geotrack.Fix{}, fmt.Errorf("%w: no coordinates for %s", ErrGeoIPLookupFailed, ip)
	}

	return geotrack.Fix{
		Lat: record.Location.Latitude,
		Lng: record.Location.Longitude,
	}, nil
}

// Subscribe resolves the configured IP immediately and then once per
// req.Interval. A failed lookup ends the subscription as provider lost.
func (g *GeoIP) Subscribe(ctx context.Context, req geotrack.Request) (geotrack.Subscription, error) {
	if g.ip == "" {
		return nil, fmt.Errorf("%w: no IP address to track", ErrInvalidIP)
	}

	first, err := g.Lookup(g.ip)
	if err != nil {
		return nil, err
	}

	interval := req.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	sub := newSubscription(1)
	go g.poll(sub, first, interval)
	return sub, nil
}

func (g *GeoIP) poll(sub *subscription, first geotrack.Fix, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fix := first
	for {
		if err := sub.send(context.Background(), fix); err != nil {
			return
		}

		select {
		case <-sub.done:
			return
		case <-ticker.C:
		}

		next, err := g.Lookup(g.ip)
		if err != nil {
			sub.end(err)
			return
		}
		fix = next
	}
}

// Available reports whether the database is open.
func (g *GeoIP) Available() bool {
	return g != nil && g.db != nil
}

// Close closes the GeoIP database.
func (g *GeoIP) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}
