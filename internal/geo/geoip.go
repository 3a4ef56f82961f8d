package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// Resolver resolves an IP address to a country code. Implementations must
// be safe for concurrent use.
type Resolver interface {
	Country(ip string) string
	Close() error
}

// MaxMindResolver resolves countries from a MaxMind GeoLite2 database.
type MaxMindResolver struct {
	reader *maxminddb.Reader
}

// NewMaxMindResolver opens the GeoLite2 database at dbPath.
func NewMaxMindResolver(dbPath string) (*MaxMindResolver, error) {
	reader, err := maxminddb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindResolver{reader: reader}, nil
}

// Country returns the ISO country code for the IP, or "" when unknown.
func (m *MaxMindResolver) Country(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := m.reader.Lookup(parsed, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// Close closes the underlying database.
func (m *MaxMindResolver) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}

// NoopResolver is used when GeoIP is disabled.
type NoopResolver struct{}

func (NoopResolver) Country(string) string { return "" }
func (NoopResolver) Close() error          { return nil }
