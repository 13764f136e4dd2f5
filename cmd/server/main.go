package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	persistlog "worldsim.ai/internal/persistence/log"
	"worldsim.ai/internal/sim/tuning"
	"worldsim.ai/internal/sim/world"
	"worldsim.ai/internal/transport/observer"
	"worldsim.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "", "world id (overrides tuning world_id)")
		seed       = flag.Int64("seed", 0, "terrain seed (overrides tuning seed when non-zero)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite operation index")
		logLevel   = flag.String("log_level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warnf("unknown log level %q; using info", *logLevel)
	}
	log := logger.WithField("component", "server")

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Fatalf("load tuning: %v", err)
		}
		log.Warnf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if id := strings.TrimSpace(*worldID); id != "" {
		tune.WorldID = id
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	worldDir := filepath.Join(*dataDir, "worlds", tune.WorldID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		log.Fatalf("data dir: %v", err)
	}

	// Optional read-model index (does not affect simulation results).
	idx, err := openRuntimeIndex(worldDir, *disableDB, logger)
	if err != nil {
		log.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.RecordTuning(tune); err != nil {
			log.WithError(err).Warn("index backend: record tuning")
		}
	}

	opLog := persistlog.NewOpLogger(worldDir)
	tileLog := persistlog.NewTileLogger(worldDir)
	defer opLog.Close()
	defer tileLog.Close()

	opts := []world.Option{
		world.WithLogger(logger),
		world.WithOpLogger(opLog),
		world.WithTileLogger(multiTileLogger{a: tileLog, b: idx}),
	}
	if idx != nil {
		opts = append(opts, world.WithDispatchLogger(idx))
	}
	w, err := world.New(world.ConfigFromTuning(tune), tune.Heights(), opts...)
	if err != nil {
		log.Fatalf("world: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("world stopped")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w, idx, opLog.Writer, tileLog.Writer)
	})

	enableDebugHTTP := envBool("WS_ENABLE_DEBUG_HTTP", defaultEnableDebugHTTP())
	enablePprofHTTP := envBool("WS_ENABLE_PPROF_HTTP", false)
	if enableDebugHTTP {
		// Local-only debug endpoints.
		mux.HandleFunc("/debug/v1/ops", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			if idx == nil {
				http.Error(rw, "index disabled", http.StatusNotFound)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			rows, err := idx.RecentOps(r.Context(), r.URL.Query().Get("from"), limit)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"world_id": w.ID(), "ops": rows})
		})
		mux.HandleFunc("/debug/v1/reset", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			w.RequestReset()
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
		})

		obsSrv := observer.NewServer(w, logger)
		mux.HandleFunc("/debug/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/debug/v1/observer/tiles", obsSrv.TilesHandler())
	} else {
		log.Info("debug endpoints disabled (WS_ENABLE_DEBUG_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		log.Info("pprof endpoints disabled (WS_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithFields(logrus.Fields{"addr": *addr, "world": tune.WorldID}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-worldDone
	w.Close()
}

func writeMetrics(rw io.Writer, w *world.World, idx runtimeIndex, logs ...*persistlog.Writer) {
	w.Monitors().WritePrometheus(rw, "worldsim", w.ID())
	if len(logs) > 0 {
		fmt.Fprintf(rw, "# HELP worldsim_log_records_total Records appended to the compressed logs.\n")
		fmt.Fprintf(rw, "# TYPE worldsim_log_records_total counter\n")
		for _, l := range logs {
			fmt.Fprintf(rw, "worldsim_log_records_total{log=%q} %d\n", l.Name(), l.Stats().Records)
		}
		fmt.Fprintf(rw, "# HELP worldsim_log_bytes_total Uncompressed bytes appended to the compressed logs.\n")
		fmt.Fprintf(rw, "# TYPE worldsim_log_bytes_total counter\n")
		for _, l := range logs {
			fmt.Fprintf(rw, "worldsim_log_bytes_total{log=%q} %d\n", l.Name(), l.Stats().Bytes)
		}
	}
	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP worldsim_index_queue_depth Current index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE worldsim_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "worldsim_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP worldsim_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE worldsim_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "worldsim_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP worldsim_index_dropped_total Index records dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE worldsim_index_dropped_total counter\n")
	fmt.Fprintf(rw, "worldsim_index_dropped_total{kind=%q} %d\n", "op", s.DropOpTotal)
	fmt.Fprintf(rw, "worldsim_index_dropped_total{kind=%q} %d\n", "tile", s.DropTileTotal)

	fmt.Fprintf(rw, "# HELP worldsim_index_write_errors_total Failed index writes.\n")
	fmt.Fprintf(rw, "# TYPE worldsim_index_write_errors_total counter\n")
	fmt.Fprintf(rw, "worldsim_index_write_errors_total %d\n", s.WriteErrTotal)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableDebugHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
