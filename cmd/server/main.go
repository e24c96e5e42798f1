package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"roomquest.ai/internal/actor"
	"roomquest.ai/internal/catalog"
	"roomquest.ai/internal/config"
	"roomquest.ai/internal/hub"
	"roomquest.ai/internal/persistence/journal"
	"roomquest.ai/internal/persistence/roomstore"
	"roomquest.ai/internal/transport/ws"
)

func main() {
	var env config.Env
	if err := config.ParseEnv(&env); err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		addr       = flag.String("addr", env.Addr, "http listen address")
		dataDir    = flag.String("data", env.DataDir, "runtime data directory")
		storeKind  = flag.String("store", env.Store, "room store: sqlite|memory")
		tuningPath = flag.String("tuning", env.Tuning, "path to tuning.yaml")
		chainsPath = flag.String("taskchains", env.TaskChains, "path to taskchains.yaml (missing file = built-in chains)")
		adminToken = flag.String("admin_token", env.AdminToken, "bearer token for /admin (empty = loopback only)")
		audit      = flag.Bool("audit", env.Audit, "write the task-chain audit journal under <data>/audit")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := config.LoadTuning(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	chains, err := catalog.Load(*chainsPath, time.Now)
	if err != nil {
		logger.Fatalf("load task chains: %v", err)
	}
	logger.Printf("task chains: %s", strings.Join(chains.IDs(), ", "))

	store, err := openStore(*storeKind, *dataDir)
	if err != nil {
		logger.Fatalf("open room store: %v", err)
	}
	defer store.Close()

	var auditor journal.Auditor
	if *audit {
		al := journal.NewAuditLogger(*dataDir)
		defer al.Close()
		auditor = al
	}

	rt := actor.New(actor.Options{
		Logger:      log.New(os.Stdout, "[actor] ", log.LstdFlags|log.Lmicroseconds),
		InboxSize:   tune.Runtime.InboxSize,
		FanOutLimit: tune.Runtime.FanOutLimit,
	})
	defer rt.Close()

	cluster := hub.NewCluster(rt, hub.Deps{
		Store:          store,
		Chains:         chains,
		Audit:          auditor,
		Logger:         log.New(os.Stdout, "[hub] ", log.LstdFlags|log.Lmicroseconds),
		HistoryPreload: tune.HistoryPreload,
	})
	gateway := ws.NewServer(cluster, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds), ws.Options{
		CallTimeout: tune.Session.CallTimeout(),
		QueueSize:   tune.Session.QueueSize,
	})

	app := &app{
		cluster:    cluster,
		store:      store,
		gateway:    gateway,
		adminToken: strings.TrimSpace(*adminToken),
		log:        logger,
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           app.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (store=%s)", *addr, *storeKind)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func openStore(kind, dataDir string) (roomstore.Store, error) {
	switch kind {
	case "memory":
		return roomstore.NewMemory(), nil
	default:
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		return roomstore.OpenSQLite(filepath.Join(dataDir, "rooms.sqlite"))
	}
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
