// Package router defines the route-lookup collaborator (spec.md §6,
// "Router — external, referenced only by interface") and a static,
// TOML-file-backed implementation of it.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Kind distinguishes the protocol a route entry serves. The session core
// only ever looks up WebSocket routes; other kinds exist so a shared
// route table can also answer plain-HTTP lookups elsewhere in a larger
// proxy deployment.
type Kind int

const (
	WebSocket Kind = iota
	HTTP
)

// Target is one candidate origin endpoint in an ordered failover list,
// matching spec.md §3 verbatim.
type Target struct {
	ConnectHost string
	ConnectPort int
	SSL         bool
	Trusted     bool
	Insecure    bool
	Host        string
	SubChannel  string
}

// Entry is what a Router lookup returns for a matching route.
type Entry struct {
	SigIss  string
	SigKey  string
	Prefix  string
	Targets []Target
}

// Router looks up routing entries by request coordinates. A nil Entry
// (with a nil error) means no route exists; the session rejects the
// client with a 502, per spec.md §4.1.
type Router interface {
	Entry(ctx context.Context, kind Kind, isSecure bool, host, path string) (*Entry, error)
}

// tomlTarget/tomlRoute/tomlConfig mirror the on-disk TOML schema, following
// the field-tagging style of
// _examples/danmuck-edgectl/internal/config/config.go.
type tomlTarget struct {
	ConnectHost string `toml:"connect_host"`
	ConnectPort int    `toml:"connect_port"`
	SSL         bool   `toml:"ssl"`
	Trusted     bool   `toml:"trusted"`
	Insecure    bool   `toml:"insecure"`
	Host        string `toml:"host"`
	SubChannel  string `toml:"sub_channel"`
}

type tomlRoute struct {
	Host    string       `toml:"host"`
	Path    string       `toml:"path"`
	SigIss  string       `toml:"sig_iss"`
	SigKey  string       `toml:"sig_key"`
	Prefix  string       `toml:"prefix"`
	Targets []tomlTarget `toml:"targets"`
}

type tomlConfig struct {
	Routes []tomlRoute `toml:"routes"`
}

// StaticTable is a Router backed by an in-memory list of routes loaded
// from a TOML file. Routes are matched by host and by path prefix, with
// longer path prefixes preferred (most-specific-wins).
type StaticTable struct {
	mu     sync.RWMutex
	routes []tomlRoute
}

// LoadStaticTable reads and validates a route table from path.
func LoadStaticTable(path string) (*StaticTable, error) {
	var cfg tomlConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("router: load %s: %w", path, err)
	}
	for i, r := range cfg.Routes {
		if r.Host == "" {
			return nil, fmt.Errorf("router: route[%d] missing host", i)
		}
		if len(r.Targets) == 0 {
			return nil, fmt.Errorf("router: route[%d] (%s) has no targets", i, r.Host)
		}
		for j, tgt := range r.Targets {
			if tgt.ConnectHost == "" {
				return nil, fmt.Errorf("router: route[%d] target[%d] missing connect_host", i, j)
			}
		}
	}
	return &StaticTable{routes: cfg.Routes}, nil
}

// Route pairs a host/path match with the Entry it resolves to, for
// programmatic table construction (tests, or wiring routes from a
// non-TOML source).
type Route struct {
	Host  string
	Path  string
	Entry Entry
}

// NewStaticTable builds a StaticTable directly from route entries,
// bypassing TOML loading; useful for tests and programmatic setup.
func NewStaticTable(routes []Route) *StaticTable {
	t := &StaticTable{}
	for _, r := range routes {
		tr := tomlRoute{
			Host:   r.Host,
			Path:   r.Path,
			SigIss: r.Entry.SigIss,
			SigKey: r.Entry.SigKey,
			Prefix: r.Entry.Prefix,
		}
		for _, tgt := range r.Entry.Targets {
			tr.Targets = append(tr.Targets, tomlTarget{
				ConnectHost: tgt.ConnectHost,
				ConnectPort: tgt.ConnectPort,
				SSL:         tgt.SSL,
				Trusted:     tgt.Trusted,
				Insecure:    tgt.Insecure,
				Host:        tgt.Host,
				SubChannel:  tgt.SubChannel,
			})
		}
		t.routes = append(t.routes, tr)
	}
	return t
}

func (s *StaticTable) Entry(ctx context.Context, kind Kind, isSecure bool, host, path string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	host = strings.ToLower(host)
	var best *tomlRoute
	for i := range s.routes {
		r := &s.routes[i]
		if !strings.EqualFold(r.Host, host) {
			continue
		}
		if r.Path != "" && !strings.HasPrefix(path, r.Path) {
			continue
		}
		if best == nil || len(r.Path) > len(best.Path) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}

	entry := &Entry{
		SigIss: best.SigIss,
		SigKey: best.SigKey,
		Prefix: best.Prefix,
	}
	for _, t := range best.Targets {
		entry.Targets = append(entry.Targets, Target{
			ConnectHost: t.ConnectHost,
			ConnectPort: t.ConnectPort,
			SSL:         t.SSL,
			Trusted:     t.Trusted,
			Insecure:    t.Insecure,
			Host:        t.Host,
			SubChannel:  t.SubChannel,
		})
	}
	return entry, nil
}

var _ Router = (*StaticTable)(nil)
