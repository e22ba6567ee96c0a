// Command wsproxy runs the WebSocket reverse-proxy server: it accepts
// client WebSocket upgrade requests, resolves a route, proxies frames to
// an origin with GRIP control-channel support, and exposes Prometheus
// metrics. Wiring style follows
// _examples/panyam-servicekit/cmd/timews/main.go (gorilla/mux router,
// one HandleFunc per endpoint, log.Fatal on the blocking ListenAndServe).
package main

import (
	"flag"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/panyam/goutils/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lattice-run/wsproxy/config"
	"github.com/lattice-run/wsproxy/control"
	"github.com/lattice-run/wsproxy/obs"
	"github.com/lattice-run/wsproxy/router"
	"github.com/lattice-run/wsproxy/session"
	"github.com/lattice-run/wsproxy/store"
)

// auditAdapter bridges session.AuditStore's domain-agnostic AuditRecord
// to store.GormAuditStore's gorm-tagged Record, so session/ never has to
// import store/ (and therefore gorm) directly.
type auditAdapter struct{ backing store.AuditStore }

func (a auditAdapter) Record(r session.AuditRecord) error {
	return a.backing.Record(store.Record{
		ID:               r.ID,
		ClientAddr:       r.ClientAddr,
		Host:             r.Host,
		Path:             r.Path,
		TargetsAttempted: r.TargetsAttempted,
		GripActive:       r.GripActive,
		Detached:         r.Detached,
		TerminalReason:   r.TerminalReason,
	})
}

func main() {
	cfgPath := flag.String("config", "wsproxy.toml", "path to the process TOML config file")
	flag.Parse()

	obs.InitLogger("wsproxy")
	log := obs.Logger()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	routes, err := router.LoadStaticTable(cfg.RoutesPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load route table")
	}

	controlMgr, err := control.NewRedisManager(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to control bus")
	}

	var audit session.AuditStore
	if cfg.AuditDBPath != "" {
		gormStore, err := store.OpenGormAuditStore(cfg.AuditDBPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open audit store")
		}
		audit = auditAdapter{backing: gormStore}
	} else {
		audit = auditAdapter{backing: store.NoopAuditStore{}}
	}

	sessionCfg := session.Config{
		Router:                routes,
		ControlMgr:            controlMgr,
		Audit:                 audit,
		PendingMax:            cfg.PendingMax,
		DefaultUpstreamKey:    cfg.DefaultUpstreamKey,
		DefaultSigIss:         cfg.DefaultSigIss,
		DefaultSigKey:         cfg.DefaultSigKey,
		UseXForwardedProtocol: cfg.UseXForwardedProtocol,
		XFFHeader:             cfg.XFFHeader,
		XFFTrustedHeader:      cfg.XFFTrustedHeader,
		OrigHeadersNeedMark:   cfg.OrigHeadersNeedMark,
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := utils.RandString(12, "")
		sess := session.New(id, sessionCfg)
		if err := sess.Start(r.Context(), w, r, upgrader); err != nil {
			log.Warn().Err(err).Str("session_id", id).Str("path", r.URL.Path).Msg("session failed to start")
		}
	})

	srv := http.Server{Addr: cfg.ListenAddr, Handler: r}
	log.Info().Str("addr", cfg.ListenAddr).Msg("wsproxy listening")
	log.Fatal().Err(srv.ListenAndServe()).Msg("server stopped")
}
