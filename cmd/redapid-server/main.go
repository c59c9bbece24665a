// Package main is the redapid daemon entrypoint: it assembles the
// inventory/session/event-loop/dispatcher stack internal/wire defines,
// discovers any programs left on disk by a previous run, and serves the
// packet RPC transport on a unix socket or TCP listener.
//
// Grounded on the teacher's cmd/quarry-runtime/main.go for the overall
// shape (urfave/cli App with a single long-running command, a
// context.Context cancelled on SIGINT/SIGTERM); the accept-loop and
// per-connection framing are new, since the teacher has no persistent
// listener of its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/redapid/server/adapter"
	"github.com/redapid/server/adapter/redis"
	"github.com/redapid/server/adapter/webhook"
	"github.com/redapid/server/internal/config"
	"github.com/redapid/server/internal/daemonlog"
	"github.com/redapid/server/internal/events"
	"github.com/redapid/server/internal/eventloop"
	"github.com/redapid/server/internal/metrics"
	"github.com/redapid/server/internal/objects/progobj"
	"github.com/redapid/server/internal/session"
	"github.com/redapid/server/internal/wire"
)

// version is stamped at release time the same way the teacher's
// cmd/quarry/main.go sets one.
var version = "0.1.0"

const opQueueDepth = 256

func main() {
	app := &cli.App{
		Name:    "redapid-server",
		Usage:   "object-API daemon: strings, lists, files, directories, processes and scheduled programs over a packet RPC transport",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to redapid.yaml",
				Value: "/etc/redapid/redapid.yaml",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "redapid-server: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := daemonlog.New("redapid-server")
	defer log.Sync()

	bus := events.NewBus()
	loop := eventloop.New(opQueueDepth)

	var coll *metrics.Collector
	if cfg.Metrics.Enabled {
		coll = metrics.NewCollector()
		bus.Subscribe(coll)
	}

	var adapterSink *adapter.Sink
	if cfg.Adapter.Type != "" {
		sink, err := buildAdapter(cfg.Adapter, log)
		if err != nil {
			return fmt.Errorf("build adapter: %w", err)
		}
		adapterSink = sink
		bus.Subscribe(*adapterSink)
		defer adapterSink.Close()
	}

	sessions := session.New(log, events.SessionSink{Bus: bus})

	router := wire.NewCallbackRouter()
	bus.Subscribe(router)

	identity := wire.Identity{UID: 1, ConnectedUID: 1}
	d := wire.New(log, loop, bus, sessions, cfg.AsyncWorkers, cfg.ProgramsRoot, cfg.MaxOpenFiles, identity)
	if coll != nil {
		d.SetMetrics(coll)
	}

	if err := rediscoverPrograms(d, cfg.ProgramsRoot, log); err != nil {
		return fmt.Errorf("rediscover programs: %w", err)
	}

	ln, err := listen(cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", cfg.ListenAddress, err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go loop.Run()
	defer loop.Stop()

	loop.Every(cfg.SessionSweepInterval.Duration, func() {
		for _, id := range sessions.Sweep(time.Now()) {
			router.Unregister(id)
		}
	})

	firstTick := true
	loop.Every(cfg.SchedulerTickInterval.Duration, func() {
		d.SchedulerTick(time.Now(), firstTick)
		firstTick = false
	})

	log.Infow("redapid-server listening", "address", cfg.ListenAddress)

	srv := &server{ln: ln, loop: loop, sessions: sessions, dispatcher: d, router: router, log: log, defaultLifetime: cfg.SessionDefaultLifetime.Duration}
	go srv.acceptLoop()

	<-ctx.Done()
	log.Infow("redapid-server shutting down")
	ln.Close()
	loop.Stop()
	d.Inventory().Shutdown()
	return nil
}

// rediscoverPrograms implements spec.md §1's "no migration of existing
// objects across restarts other than rediscovery of on-disk Program
// definitions": every program.conf under programsRoot becomes a live,
// scheduler-registered Program again before the daemon starts accepting
// connections.
func rediscoverPrograms(d *wire.Dispatcher, programsRoot string, log *daemonlog.Logger) error {
	programs, err := config.DiscoverPrograms(programsRoot)
	if err != nil {
		return err
	}
	for _, cfg := range programs {
		configDir := filepath.Join(programsRoot, cfg.Identifier)
		p, err := progobj.Load(d, configDir, cfg)
		if err != nil {
			log.Warnw("skipping unloadable program", "identifier", cfg.Identifier, "error", err)
			continue
		}
		id, err := d.Inventory().Add(p)
		if err != nil {
			log.Warnw("skipping program, inventory full", "identifier", cfg.Identifier, "error", err)
			continue
		}
		d.Scheduler().Register(id)
	}
	return nil
}

// buildAdapter constructs the one configured adapter.Publisher (webhook or
// redis) and wraps it in adapter.Sink, mirroring the teacher's own
// single-adapter-at-a-time configuration shape.
func buildAdapter(cfg config.AdapterConfig, log *daemonlog.Logger) (*adapter.Sink, error) {
	var pub adapter.Publisher
	var err error
	switch cfg.Type {
	case "webhook":
		pub, err = webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retriesOrDefault(cfg.Retries, webhook.DefaultRetries),
		})
	case "redis":
		pub, err = redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retriesOrDefault(cfg.Retries, redis.DefaultRetries),
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return &adapter.Sink{Publisher: pub, Log: log}, nil
}

func retriesOrDefault(r *int, def int) int {
	if r == nil {
		return def
	}
	return *r
}

// listen parses a "unix://<path>" or "tcp://<addr>" listen address, the
// same two transports spec.md §6 assumes a RED Brick daemon is reachable
// over.
func listen(address string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(address, "unix://"):
		path := strings.TrimPrefix(address, "unix://")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket %q: %w", path, err)
		}
		return net.Listen("unix", path)
	case strings.HasPrefix(address, "tcp://"):
		return net.Listen("tcp", strings.TrimPrefix(address, "tcp://"))
	default:
		return nil, fmt.Errorf("unsupported listen address %q (want unix:// or tcp://)", address)
	}
}

// server owns the accept loop and per-connection framing. Every Dispatch
// call is posted onto the event loop goroutine (internal/wire.Dispatcher
// assumes single-threaded access); connection goroutines only read
// frames, post, and write the result back.
type server struct {
	ln              net.Listener
	loop            *eventloop.Loop
	sessions        *session.Registry
	dispatcher      *wire.Dispatcher
	router          *wire.CallbackRouter
	log             *daemonlog.Logger
	defaultLifetime time.Duration
}

func (s *server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warnw("accept failed", "error", err)
			return
		}
		go s.serve(conn)
	}
}

// serve owns one connection end to end: it creates a session for the
// connection's lifetime (spec.md §4.3 has no wire-level create_session;
// a connection's session is implicit in the transport), registers it with
// the callback router so push notifications can reach it, and loops
// reading/dispatching/writing frames until the client disconnects.
func (s *server) serve(conn net.Conn) {
	defer conn.Close()

	sessID, err := s.sessions.Create(s.defaultLifetime, conn.RemoteAddr().String())
	if err != nil {
		s.log.Warnw("session create failed, closing connection", "error", err)
		return
	}
	defer func() {
		s.sessions.Expire(sessID)
		s.router.Unregister(sessID)
	}()

	var writeMu sync.Mutex
	write := func(frame []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := conn.Write(frame); err != nil {
			s.log.Warnw("write failed", "session_id", sessID, "error", err)
		}
	}
	s.router.Register(sessID, write)

	dec := wire.NewFrameDecoder(conn)
	for {
		req, err := dec.DecodeRequest()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debugw("connection closed", "session_id", sessID, "error", err)
			}
			return
		}

		respCh := make(chan *wire.Response, 1)
		s.loop.Post(func() {
			respCh <- s.dispatcher.Dispatch(req, sessID)
		})
		resp := <-respCh

		if !req.ResponseExpected() {
			continue
		}
		frame, err := wire.EncodeResponse(resp)
		if err != nil {
			s.log.Warnw("encode response failed", "session_id", sessID, "error", err)
			return
		}
		write(frame)
	}
}
