package geoip

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

// dbKind names the three MaxMind database kinds the corpus consults.
type dbKind string

const (
	kindCountry dbKind = "Country"
	kindCity    dbKind = "City"
	kindASN     dbKind = "ASN"
)

// candidatePaths builds the ordered fallback chain for kind under dir,
// reproduced verbatim from spec.md §4.E / cMaxMindDB::TryCountryDB et al.
func candidatePaths(dir string, kind dbKind) []string {
	return []string{
		filepath.Join(dir, fmt.Sprintf("GeoIP2-%s.mmdb", kind)),
		filepath.Join(dir, fmt.Sprintf("GeoLite2-%s.mmdb", kind)),
		fmt.Sprintf("/usr/share/GeoIP/GeoIP2-%s.mmdb", kind),
		fmt.Sprintf("/usr/local/share/GeoIP/GeoIP2-%s.mmdb", kind),
		fmt.Sprintf("./GeoIP2-%s.mmdb", kind),
		fmt.Sprintf("/usr/share/GeoIP/GeoLite2-%s.mmdb", kind),
		fmt.Sprintf("/usr/local/share/GeoIP/GeoLite2-%s.mmdb", kind),
		fmt.Sprintf("./GeoLite2-%s.mmdb", kind),
	}
}

func firstExisting(paths []string) (string, bool) {
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, true
		}
	}
	return "", false
}

// asnRecord is the raw maxminddb-golang decode target for the ASN
// database. geoip2-golang has no ASN reader of its own distinct from
// City/Country, so the ASN lookup goes through the lower-level
// maxminddb-golang reader directly.
type asnRecord struct {
	AutonomousSystemNumber       uint   `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

// Lookup ties address classification, the merge-on-write Cache and the
// three MaxMind database handles together (spec.md §4.E).
type Lookup struct {
	dir        string
	countryDB  *geoip2.Reader
	cityDB     *geoip2.Reader
	asnDB      *maxminddb.Reader
	cache      *Cache
	normalizer *Normalizer
}

// Open builds a Lookup rooted at dir, opening whichever database files the
// fallback chain finds. A missing database kind is not an error: lookups
// against it simply degrade to the not-found sentinel (spec.md's
// external-lookup-failure error kind). Neither Open nor its caller in
// internal/hub logs which kinds are missing, and nothing is logged per
// request.
func Open(dir string, cache *Cache, normalizer *Normalizer) (*Lookup, error) {
	l := &Lookup{dir: dir, cache: cache, normalizer: normalizer}

	if path, ok := firstExisting(candidatePaths(dir, kindCountry)); ok {
		r, err := geoip2.Open(path)
		if err != nil {
			return nil, fmt.Errorf("geoip: open country db %s: %w", path, err)
		}
		l.countryDB = r
	}

	if path, ok := firstExisting(candidatePaths(dir, kindCity)); ok {
		r, err := geoip2.Open(path)
		if err != nil {
			return nil, fmt.Errorf("geoip: open city db %s: %w", path, err)
		}
		l.cityDB = r
	}

	if path, ok := firstExisting(candidatePaths(dir, kindASN)); ok {
		r, err := maxminddb.Open(path)
		if err != nil {
			return nil, fmt.Errorf("geoip: open asn db %s: %w", path, err)
		}
		l.asnDB = r
	}

	return l, nil
}

// Reload closes every open database handle, reopens them via the fallback
// chain, and clears the cache (spec.md §4.E "Reload").
func (l *Lookup) Reload() error {
	l.Close()
	l.cache.Clear()

	reopened, err := Open(l.dir, l.cache, l.normalizer)
	if err != nil {
		return err
	}
	*l = *reopened
	return nil
}

// Close releases every open database handle. Safe to call more than once.
func (l *Lookup) Close() {
	if l.countryDB != nil {
		l.countryDB.Close()
		l.countryDB = nil
	}
	if l.cityDB != nil {
		l.cityDB.Close()
		l.cityDB = nil
	}
	if l.asnDB != nil {
		l.asnDB.Close()
		l.asnDB = nil
	}
}

// GetCountryCode returns the 2-letter country code for host, or a sentinel.
func (l *Lookup) GetCountryCode(host string) (string, bool) {
	switch Classify(host) {
	case ClassLoopback:
		return SentinelLoopbackCode, true
	case ClassInvalid:
		return SentinelInvalidCode, false
	case ClassPrivate:
		return SentinelPrivateCode, true
	}

	ip, _ := ip2num(host)

	if rec, ok := l.cache.get(ip); ok && rec.countryCode != "" {
		return rec.countryCode, true
	}

	if l.countryDB == nil {
		return SentinelNotFoundCode, false
	}

	parsed := net.ParseIP(host)
	country, err := l.countryDB.Country(parsed)
	if err != nil || country == nil {
		return SentinelNotFoundCode, false
	}

	code := country.Country.ISOCode
	if code == "" {
		code = country.RegisteredCountry.ISOCode
	}
	if code == "" {
		return SentinelNotFoundCode, false
	}

	l.cache.merge(ip, fields{countryCode: code})
	return code, true
}

// GetCountryName returns the country name for host, or a sentinel.
func (l *Lookup) GetCountryName(host string) (string, bool) {
	switch Classify(host) {
	case ClassLoopback:
		return SentinelLoopbackName, true
	case ClassInvalid:
		return SentinelInvalidName, false
	case ClassPrivate:
		return SentinelPrivateName, true
	}

	ip, _ := ip2num(host)

	if rec, ok := l.cache.get(ip); ok && rec.countryName != "" {
		return rec.countryName, true
	}

	if l.countryDB == nil {
		return SentinelNotFoundName, false
	}

	parsed := net.ParseIP(host)
	country, err := l.countryDB.Country(parsed)
	if err != nil || country == nil {
		return SentinelNotFoundName, false
	}

	name := l.normalizer.Normalize(country.Country.Names["en"])
	if name == "" {
		return SentinelNotFoundName, false
	}

	l.cache.merge(ip, fields{countryName: name})
	return name, true
}

// GetCity returns the city name for host, or a sentinel.
func (l *Lookup) GetCity(host string) (string, bool) {
	switch Classify(host) {
	case ClassLoopback:
		return SentinelLoopbackName, true
	case ClassInvalid:
		return SentinelInvalidName, false
	case ClassPrivate:
		return SentinelPrivateName, true
	}

	ip, _ := ip2num(host)

	if rec, ok := l.cache.get(ip); ok && rec.city != "" {
		return rec.city, true
	}

	if l.cityDB == nil {
		return SentinelNotFoundName, false
	}

	parsed := net.ParseIP(host)
	city, err := l.cityDB.City(parsed)
	if err != nil || city == nil {
		return SentinelNotFoundName, false
	}

	name := l.normalizer.Normalize(city.City.Names["en"])
	if name == "" {
		return SentinelNotFoundName, false
	}

	l.cache.merge(ip, fields{city: name})
	return name, true
}

// GetASN returns "AS<number> <organization>" for host, or a sentinel.
func (l *Lookup) GetASN(host string) (string, bool) {
	switch Classify(host) {
	case ClassLoopback:
		return SentinelLoopbackName, true
	case ClassInvalid:
		return SentinelInvalidName, false
	case ClassPrivate:
		return SentinelPrivateName, true
	}

	ip, _ := ip2num(host)

	if rec, ok := l.cache.get(ip); ok && rec.asn != "" {
		return rec.asn, true
	}

	if l.asnDB == nil {
		return SentinelNotFoundName, false
	}

	parsed := net.ParseIP(host)
	var rec asnRecord
	if err := l.asnDB.Lookup(parsed, &rec); err != nil || rec.AutonomousSystemNumber == 0 {
		return SentinelNotFoundName, false
	}

	org := l.normalizer.Normalize(rec.AutonomousSystemOrganization)
	name := fmt.Sprintf("AS%d %s", rec.AutonomousSystemNumber, org)

	l.cache.merge(ip, fields{asn: name})
	return name, true
}
