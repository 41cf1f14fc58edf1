package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pilightgo/pilightd/internal/broadcaster"
	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/clientize"
	"github.com/pilightgo/pilightd/internal/config"
	"github.com/pilightgo/pilightd/internal/decoder"
	"github.com/pilightgo/pilightd/internal/discovery"
	"github.com/pilightgo/pilightd/internal/hwdrv"
	"github.com/pilightgo/pilightd/internal/metrics"
	"github.com/pilightgo/pilightd/internal/pidfile"
	"github.com/pilightgo/pilightd/internal/protocol"
	"github.com/pilightgo/pilightd/internal/receiver"
	"github.com/pilightgo/pilightd/internal/sender"
	"github.com/pilightgo/pilightd/internal/session"
	"github.com/pilightgo/pilightd/internal/stats"
)

const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cfg.Help {
		fmt.Println("usage: pilightd [-H] [-V] [-C config] [-S master-host] [-P master-port] [-D] [--stacktracer] [--threadprofiler]")
		return 0
	}
	if cfg.Version {
		fmt.Printf("pilightd %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}

	l := setupLogger(cfg.Debug)

	if err := pidfile.Acquire(cfg.PidFile); err != nil {
		l.Error("pidfile_acquire_failed", "error", err)
		return 1
	}
	defer func() {
		if err := pidfile.Release(cfg.PidFile); err != nil {
			l.Warn("pidfile_release_failed", "error", err)
		}
	}()

	nodeUUID := cfg.NodeUUID
	if nodeUUID == "" {
		nodeUUID = uuid.NewString()
	}

	registry := protocol.NewRegistry()
	if err := registry.Register(protocol.NewRawDescriptor()); err != nil {
		l.Error("protocol_register_failed", "error", err)
		return 1
	}
	registry.Freeze()

	b := broker.New(nodeUUID, registry, cfg.ReceiveRepeats)
	b.Adhoc = cfg.MasterHost != ""

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mod := initHardware(cfg, l)
	var modules []*hwdrv.Module
	if mod != nil {
		modules = append(modules, mod)
	}

	mgr := session.NewManager(registry)
	dispatcher := session.NewDispatcher(b, mgr)
	srv := session.NewServer(b, dispatcher,
		session.WithListenAddr(cfg.ListenAddr),
		session.WithMaxClients(cfg.MaxClients),
		session.WithWebEnabled(cfg.WebEnabled),
	)
	bc := broadcaster.New(b, mgr)

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Debug("worker_start", "worker", name)
			fn(ctx)
			l.Debug("worker_stop", "worker", name)
		}()
	}

	if mod != nil {
		if mod.Edge != nil {
			spawn("edge_receiver", receiver.NewEdgeWorker(mod, b).Run)
		}
		if mod.Frame != nil {
			spawn("frame_receiver", receiver.NewFrameWorker(mod, b).Run)
		}
	}
	spawn("decoder", decoder.New(b).Run)
	spawn("sender", sender.New(b, modules).Run)
	spawn("broadcaster", bc.Run)
	spawn("session_server", func(ctx context.Context) {
		if err := srv.Serve(ctx); err != nil {
			l.Error("session_server_error", "error", err)
			cancel()
		}
	})

	if cfg.SSDPEnabled {
		spawn("ssdp_responder", func(ctx context.Context) {
			select {
			case <-srv.Ready():
			case <-ctx.Done():
				return
			}
			if err := discovery.NewResponder(srv.Addr()).Run(ctx); err != nil {
				l.Warn("ssdp_responder_error", "error", err)
			}
		})
	}

	if cfg.MDNSEnabled {
		spawn("mdns", func(ctx context.Context) {
			select {
			case <-srv.Ready():
			case <-ctx.Done():
				return
			}
			cleanup, err := discovery.AdvertiseMDNS(ctx, true, cfg.MDNSName, addrPort(srv.Addr()), nil)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
				return
			}
			l.Info("mdns_started", "name", cfg.MDNSName)
			<-ctx.Done()
			cleanup()
		})
	}

	if b.Adhoc {
		spawn("clientize", clientize.New(b, dispatcher, mgr, cfg.MasterHost, cfg.MasterPort).Run)
	}

	watchdogDone := make(chan bool, 1)
	sampler, serr := stats.NewProcessSampler()
	if serr != nil {
		l.Warn("stats_sampler_unavailable", "error", serr)
	} else {
		spawn("stats", stats.New(b, sampler, true, func(immediate bool) {
			select {
			case watchdogDone <- immediate:
			default:
			}
			cancel()
		}).Run)
	}

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv = metrics.StartHTTP(cfg.MetricsAddr)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
	case immediate := <-watchdogDone:
		if immediate {
			l.Error("watchdog_abort")
			exitCode = 1
		} else {
			l.Warn("watchdog_controlled_shutdown")
		}
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shCtx)
	}
	wg.Wait()
	return exitCode
}

func addrPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}
