// Package geo resolves submission client addresses to country and city.
package geo

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"

	"taiga/internal/logger"
	"taiga/pkg/models"
)

// cityDB is the subset of the maxmind reader the enricher needs; tests
// substitute a fake.
type cityDB interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

var openCityDB = func(path string) (cityDB, error) {
	return geoip2.Open(path)
}

// Enricher wraps a city database and answers country/city lookups for a
// client address. The handle is reopened when the wall-clock hour changes
// since the previous lookup, bounding database staleness to one hour
// without reopening per request. Construct only when a database file is
// configured; a nil *Enricher means geo enrichment is not requested.
type Enricher struct {
	path   string
	logger logger.Logger

	mu       sync.RWMutex
	db       cityDB
	openHour int

	now func() time.Time
}

func NewEnricher(path string, log logger.Logger) (*Enricher, error) {
	db, err := openCityDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open city database %s: %w", path, err)
	}

	return &Enricher{
		path:     path,
		logger:   log,
		db:       db,
		openHour: time.Now().UTC().Hour(),
		now:      time.Now,
	}, nil
}

// Country resolves the submitting client to an ISO country code, trying
// the first X-Forwarded-For hop before the direct remote address. Returns
// the unknown sentinel when neither resolves.
func (e *Enricher) Country(xff, remoteAddr string) string {
	return e.lookup(xff, remoteAddr, func(c *geoip2.City) string {
		return c.Country.IsoCode
	})
}

// City resolves the submitting client to a city name, with the same
// ordering and sentinel as Country.
func (e *Enricher) City(xff, remoteAddr string) string {
	return e.lookup(xff, remoteAddr, func(c *geoip2.City) string {
		return c.City.Names["en"]
	})
}

func (e *Enricher) lookup(xff, remoteAddr string, extract func(*geoip2.City) string) string {
	e.maybeRotate()

	e.mu.RLock()
	defer e.mu.RUnlock()

	if v := e.queryLocked(FirstForwardedAddr(xff), extract); v != "" {
		return v
	}
	if v := e.queryLocked(hostOnly(remoteAddr), extract); v != "" {
		return v
	}
	return models.UnknownGeo
}

func (e *Enricher) queryLocked(addr string, extract func(*geoip2.City) string) string {
	if addr == "" || e.db == nil {
		return ""
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return ""
	}
	city, err := e.db.City(ip)
	if err != nil {
		// a failing lookup is "no geo data", never propagated
		return ""
	}
	return extract(city)
}

// maybeRotate closes and reopens the database handle once per wall-clock
// hour boundary. Readers in flight complete against the old handle before
// the swap; a failed reopen keeps the old handle and retries next hour.
func (e *Enricher) maybeRotate() {
	hour := e.now().UTC().Hour()

	e.mu.RLock()
	current := e.openHour
	e.mu.RUnlock()
	if hour == current {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if hour == e.openHour {
		return
	}

	db, err := openCityDB(e.path)
	if err != nil {
		e.logger.Warnw("Failed to reopen city database, keeping previous handle",
			"path", e.path,
			"error", err,
		)
		e.openHour = hour
		return
	}

	if e.db != nil {
		_ = e.db.Close()
	}
	e.db = db
	e.openHour = hour
	e.logger.Debugw("Rotated city database handle", "path", e.path)
}

func (e *Enricher) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// FirstForwardedAddr returns the first comma or space delimited address
// of an X-Forwarded-For value, or "" when the header is empty.
func FirstForwardedAddr(xff string) string {
	xff = strings.TrimSpace(xff)
	if xff == "" {
		return ""
	}
	if i := strings.IndexAny(xff, ", "); i >= 0 {
		xff = xff[:i]
	}
	return xff
}

// hostOnly strips a :port suffix when present so RemoteAddr values from
// the HTTP layer parse as bare IPs.
func hostOnly(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
