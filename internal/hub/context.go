// Package hub implements the Hub Context (spec.md §4.F): the single owner
// of the Descriptor Table, Event Registrar, Readiness Poller, geo/ASN
// lookup cache and registered-user store, and the sole entry point the
// rest of the program calls into. Nothing outside this package touches
// the reactor or connection state directly.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pavel-pimenov/verlihub/internal/config"
	"github.com/pavel-pimenov/verlihub/internal/conn"
	"github.com/pavel-pimenov/verlihub/internal/geoip"
	hubmetrics "github.com/pavel-pimenov/verlihub/internal/metrics"
	"github.com/pavel-pimenov/verlihub/internal/reactor"
	"github.com/pavel-pimenov/verlihub/internal/users"
)

// Context is the Hub Context. One instance exists per running hub
// process; it is not safe for concurrent use from more than the single
// reactor goroutine that calls Run (spec.md's single-threaded cooperative
// reactor model — no per-tick locking is needed because only one
// goroutine ever touches table, registrar, conns or live).
type Context struct {
	cfg *config.Config
	log *slog.Logger

	table     *reactor.Table
	registrar *reactor.Registrar
	poller    reactor.Poller
	metrics   *hubmetrics.Collector

	geoCache  *geoip.Cache
	geoLookup *geoip.Lookup
	store     users.Store

	clock func() time.Time

	listenFD    reactor.Descriptor
	conns       map[reactor.Descriptor]*conn.Connection
	connsByNick map[string]*conn.Connection
	live        map[string]*users.Live

	closing bool
	topic   string

	onFrame FrameHandler

	// jobs/results/workersWG back QueryStore's bounded worker pool (spec.md
	// §8): registered-user store calls run off the reactor goroutine, with
	// results drained back in at the top of each tick.
	jobs      chan storeJob
	results   chan storeResult
	workersWG sync.WaitGroup
}

// New builds a Context from cfg, wiring the reactor substrate, the geo
// lookup cache/database chain and the registered-user store. It does not
// open the listening socket; call Listen for that.
func New(cfg *config.Config, log *slog.Logger) (*Context, error) {
	if log == nil {
		log = slog.Default()
	}

	clock := time.Now

	poller, err := reactor.NewPoller()
	if err != nil {
		return nil, err
	}

	registrar := reactor.NewRegistrar()
	table := reactor.NewTable(registrar)

	registrar.SetSync(func(d reactor.Descriptor, mask reactor.EventMask) {
		if err := poller.SetInterest(d, mask); err != nil {
			log.Warn("poller set interest failed", slog.Int("fd", int(d)), slog.Any("error", err))
		}
	})

	normalizer := geoip.NewNormalizer(geoip.DepthTransliterate, cfg.Geo.HubEncoding)
	geoCache := geoip.NewCache(cfg.Geo.CacheMaxAge, clock)
	geoLookup, err := geoip.Open(cfg.Geo.DBDir, geoCache, normalizer)
	if err != nil {
		poller.Close()
		return nil, err
	}

	store, err := openStore(cfg.DB.DSN)
	if err != nil {
		geoLookup.Close()
		poller.Close()
		return nil, err
	}

	h := &Context{
		cfg:         cfg,
		log:         log,
		table:       table,
		registrar:   registrar,
		poller:      poller,
		metrics:     hubmetrics.NewCollector(nil),
		geoCache:    geoCache,
		geoLookup:   geoLookup,
		store:       store,
		clock:       clock,
		listenFD:    reactor.Invalid,
		conns:       make(map[reactor.Descriptor]*conn.Connection),
		connsByNick: make(map[string]*conn.Connection),
		live:        make(map[string]*users.Live),
	}
	h.startStorePool()
	return h, nil
}

// BindUser associates nick with c once a login handshake above this
// package has negotiated it, so ReportUser and InUserSupports can reach
// the connection directly by nick.
func (h *Context) BindUser(nick string, c *conn.Connection) {
	h.connsByNick[nick] = c
}

// UnbindUser removes a nick-to-connection association. Idempotent.
func (h *Context) UnbindUser(nick string) {
	delete(h.connsByNick, nick)
}

// openStore selects the in-memory store when no DSN is configured
// (standalone/demo runs and tests), the gorm-backed MySQL store otherwise.
func openStore(dsn string) (users.Store, error) {
	if dsn == "" {
		return users.NewMemStore(), nil
	}
	return users.OpenGORM(dsn)
}

// Table exposes the Descriptor Table for diagnostics and tests.
func (h *Context) Table() *reactor.Table { return h.table }

// Registrar exposes the Event Registrar for diagnostics and tests.
func (h *Context) Registrar() *reactor.Registrar { return h.registrar }

// GeoLookup exposes the geo/ASN lookup chain for callers that need to
// annotate a connection's peer address (e.g. a login handler).
func (h *Context) GeoLookup() *geoip.Lookup { return h.geoLookup }

// Store exposes the registered-user store.
func (h *Context) Store() users.Store { return h.store }

// Metrics exposes the Prometheus collector.
func (h *Context) Metrics() *hubmetrics.Collector { return h.metrics }

// Live looks up a currently-present occupant (real user or bot) by nick.
func (h *Context) Live(nick string) (*users.Live, bool) {
	l, ok := h.live[nick]
	return l, ok
}

// syncInterest reconciles d's Registrar interest mask to exactly want,
// since Registrar only exposes additive (OptIn) and subtractive (OptOut)
// updates, never a direct set.
func (h *Context) syncInterest(d reactor.Descriptor, want reactor.EventMask) {
	current := h.registrar.OptGet(d)

	if add := want &^ current; add != 0 {
		h.registrar.OptIn(d, add)
	}
	if remove := current &^ want; remove != 0 {
		h.registrar.OptOut(d, remove)
	}
}
