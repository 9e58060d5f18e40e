// ABOUTME: Gateway orchestrator that wires the tool registry, scheduler and transports
// ABOUTME: Manages HTTP and gRPC listeners, tailnet exposure, background work and shutdown order

package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/toolgate/internal/builtins"
	"github.com/2389/toolgate/internal/catalog"
	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/mcp"
	"github.com/2389/toolgate/internal/scheduler"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/tools"
	"github.com/2389/toolgate/internal/upstream"
)

// Housekeeping callbacks available to jobs.
const (
	CallbackPurgeUpstreamCache = "purge_upstream_cache"
	CallbackPruneHistory       = "prune_history"
)

// pruneInterval is how often history is pruned when no job is configured for it.
const pruneInterval = time.Hour

const serverInstructions = "Tools are synthesized from declarative descriptors. " +
	"Call tools/list for the catalog; every tool validates its arguments against inputSchema. " +
	"Reference documents are under resources/list and resources/templates/list, prompt templates under prompts/list."

// Gateway orchestrates the toolgate server components.
type Gateway struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	store      store.Store // nil when history is disabled
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	upstream   *upstream.Manager
	catalog    *catalog.Catalog
	scheduler  *scheduler.Scheduler
	mcpServer  *mcp.Server

	grpcServer   *grpc.Server // nil when gRPC is disabled
	healthServer *health.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server

	// background runs the scheduler and the services watcher
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	ready        atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the history store, or returns nil when history is disabled.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TOOLGATE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		return nil, nil
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// grpcEnabled reports whether a gRPC listener will be opened.
func grpcEnabled(cfg *config.Config) bool {
	return cfg.Tailscale.Enabled || cfg.Server.GRPCAddr != ""
}

// transports lists what server_info reports.
func transports(cfg *config.Config) []string {
	t := []string{"http", "stdio"}
	if grpcEnabled(cfg) {
		t = append(t, "grpc")
	}
	return t
}

// createGRPCServer creates a gRPC server with the keepalive policy used for long-lived clients.
func createGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
}

// New creates a new Gateway with the given configuration. Nothing listens and
// no jobs run until Run or RunStdio is called.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:  cfg,
		logger:  logger,
		version: version,
		store:   s,
	}
	if err := gw.init(); err != nil {
		gw.closeComponents()
		return nil, err
	}
	return gw, nil
}

func (g *Gateway) init() error {
	cfg := g.config
	logger := g.logger

	g.registry = tools.NewRegistry(logger.With("component", "registry"))
	info := builtins.Info{
		Name:       "toolgate",
		Version:    g.version,
		Transports: transports(cfg),
	}
	if err := builtins.RegisterAll(g.registry, info); err != nil {
		return fmt.Errorf("registering builtin tools: %w", err)
	}
	g.catalog = catalog.New(logger.With("component", "catalog"))
	if err := builtins.RegisterContent(g.catalog, g.registry, info); err != nil {
		return fmt.Errorf("registering builtin resources: %w", err)
	}

	dcfg := tools.DispatcherConfig{
		Registry: g.registry,
		Logger:   logger.With("component", "dispatcher"),
		Timeout:  cfg.Server.ToolTimeout,
	}
	if g.store != nil {
		dcfg.Recorder = g.store
	}
	dispatcher, err := tools.NewDispatcher(dcfg)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	g.dispatcher = dispatcher

	g.upstream, err = upstream.NewManager(upstream.ManagerConfig{
		Registry:   g.registry,
		Dir:        cfg.Services.Dir,
		RetryDelay: cfg.Services.RetryDelay,
		Logger:     logger.With("component", "upstream"),
	})
	if err != nil {
		return fmt.Errorf("creating upstream manager: %w", err)
	}
	if err := g.upstream.LoadAll(); err != nil {
		// Files that parsed are registered either way.
		logger.Warn("some upstream services failed to load", "error", err)
	}
	if err := upstream.RegisterResources(g.catalog, g.upstream); err != nil {
		return fmt.Errorf("registering platform resources: %w", err)
	}

	if err := g.initScheduler(); err != nil {
		return err
	}

	g.mcpServer, err = mcp.NewServer(mcp.Config{
		Dispatcher:      g.dispatcher,
		Catalog:         g.catalog,
		Logger:          logger.With("component", "mcp"),
		Name:            "toolgate",
		Version:         g.version,
		Instructions:    serverInstructions,
		IdleTimeout:     cfg.Server.SessionIdleTimeout,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	if grpcEnabled(cfg) {
		g.grpcServer = createGRPCServer()
		g.healthServer = registerGRPCServices(g.grpcServer, g.dispatcher, logger.With("component", "grpc"))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	g.mcpServer.RegisterRoutes(mux)
	g.registerAPIRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway initialized",
		"tools", g.registry.Len(),
		"history", g.store != nil,
		"grpc", g.grpcServer != nil,
	)
	return nil
}

func (g *Gateway) initScheduler() error {
	scfg := scheduler.Config{
		Dispatcher:    g.dispatcher,
		Logger:        g.logger.With("component", "scheduler"),
		Tick:          g.config.Scheduler.Tick,
		DefaultBudget: g.config.Scheduler.DefaultBudget,
		MaxFailures:   g.config.Scheduler.MaxFailures,
	}
	if g.store != nil {
		scfg.Recorder = g.store
	}
	sched, err := scheduler.New(scfg)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	g.scheduler = sched

	if err := sched.RegisterCallback(CallbackPurgeUpstreamCache, g.upstream.PurgeCachesJob); err != nil {
		return err
	}
	if g.store != nil {
		if err := sched.RegisterCallback(CallbackPruneHistory, store.PruneCallback(g.store, g.config.Database.Retention)); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the HTTP handler serving /mcp, health and the admin API.
func (g *Gateway) Handler() http.Handler { return g.httpServer.Handler }

// Registry returns the process-wide tool registry.
func (g *Gateway) Registry() *tools.Registry { return g.registry }

// Dispatcher returns the shared tool dispatcher.
func (g *Gateway) Dispatcher() *tools.Dispatcher { return g.dispatcher }

// startBackground starts the scheduler and the services watcher, then adds
// the configured jobs. Jobs can only be added once the scheduler is running.
func (g *Gateway) startBackground() error {
	ctx, cancel := context.WithCancel(context.Background())
	g.bgCancel = cancel

	g.bgWG.Add(1)
	go func() {
		defer g.bgWG.Done()
		if err := g.scheduler.Run(ctx); err != nil {
			g.logger.Error("scheduler failed", "error", err)
		}
	}()

	if g.config.Services.Watch && g.config.Services.Dir != "" {
		g.bgWG.Add(1)
		go func() {
			defer g.bgWG.Done()
			if err := g.upstream.Watch(ctx); err != nil {
				g.logger.Error("services watcher failed", "error", err)
			}
		}()
	}

	addCtx, cancelAdd := context.WithTimeout(ctx, 5*time.Second)
	defer cancelAdd()
	return g.addConfiguredJobs(addCtx)
}

// addConfiguredJobs schedules the jobs listed in config, plus history pruning
// when the store is enabled and no configured job already prunes.
func (g *Gateway) addConfiguredJobs(ctx context.Context) error {
	pruneConfigured := false
	for _, jc := range g.config.Jobs {
		if jc.Callback == CallbackPruneHistory {
			pruneConfigured = true
		}
		spec, err := jobSpecFromConfig(jc)
		if err != nil {
			return fmt.Errorf("job %q: %w", jc.Name, err)
		}
		info, err := g.scheduler.Add(ctx, spec)
		if err != nil {
			return fmt.Errorf("scheduling job %q: %w", jc.Name, err)
		}
		g.logger.Info("scheduled job", "id", info.ID, "name", info.Name, "trigger", info.Trigger)
	}

	if g.store == nil || pruneConfigured || g.config.Database.Retention <= 0 {
		return nil
	}
	info, err := g.scheduler.Add(ctx, scheduler.JobSpec{
		Name:     CallbackPruneHistory,
		Trigger:  scheduler.Interval{Every: pruneInterval},
		Callback: CallbackPruneHistory,
	})
	if err != nil {
		return fmt.Errorf("scheduling history pruning: %w", err)
	}
	g.logger.Debug("scheduled history pruning", "id", info.ID, "retention", g.config.Database.Retention)
	return nil
}

func jobSpecFromConfig(jc config.JobConfig) (scheduler.JobSpec, error) {
	trigger, err := scheduler.ParseTrigger(jc.Every, jc.Cron)
	if err != nil {
		return scheduler.JobSpec{}, err
	}
	spec := scheduler.JobSpec{
		Name:     jc.Name,
		Trigger:  trigger,
		Tool:     jc.Tool,
		Callback: jc.Callback,
		Budget:   jc.Budget,
		MaxRuns:  jc.MaxRuns,
	}
	if len(jc.Arguments) > 0 {
		args, err := json.Marshal(jc.Arguments)
		if err != nil {
			return scheduler.JobSpec{}, fmt.Errorf("encoding arguments: %w", err)
		}
		spec.Arguments = args
	}
	return spec, nil
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
// grpcLn is nil when gRPC is disabled.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the listeners, the scheduler and the configured jobs, and blocks
// until ctx is canceled or a server fails. It always shuts the gateway down
// before returning.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		_ = g.gracefulShutdown()
		return err
	}

	if err := g.startBackground(); err != nil {
		_ = httpListener.Close()
		if grpcListener != nil {
			_ = grpcListener.Close()
		}
		_ = g.gracefulShutdown()
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	g.ready.Store(true)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// RunStdio serves the catalog over stdin/stdout instead of listening. The
// scheduler and services watcher run alongside until ctx is canceled or the
// client disconnects.
func (g *Gateway) RunStdio(ctx context.Context) error {
	bridge, err := mcp.NewStdioBridge(mcp.BridgeConfig{
		Dispatcher:   g.dispatcher,
		Logger:       g.logger.With("component", "stdio"),
		Name:         "toolgate",
		Version:      g.version,
		Instructions: serverInstructions,
		Catalog:      g.catalog,
	})
	if err != nil {
		_ = g.gracefulShutdown()
		return err
	}
	if err := g.startBackground(); err != nil {
		_ = g.gracefulShutdown()
		return err
	}

	g.ready.Store(true)
	serveErr := bridge.Run(ctx)
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	shutdownErr := g.gracefulShutdown()
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context bounded by the grace period.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	grace := g.config.Server.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the configured tsnet state directory or
// toolgate/tailscale under the XDG data home.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if data := os.Getenv("XDG_DATA_HOME"); filepath.IsAbs(data) {
		return filepath.Join(data, "toolgate", "tailscale"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no home directory for tailscale state, set tailscale.state_dir: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "toolgate", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config, falling back to TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(os.Getenv("TS_AUTHKEY")); key != "" {
		return key, nil
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		g.tsnetServer = nil
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownHTTP stops accepting connections and gives MCP sessions the grace
// period to finish their calls. Open SSE streams keep connections busy until
// the MCP server closes its sessions, so both run together.
func (g *Gateway) shutdownHTTP(ctx context.Context) []error {
	var errs []error

	httpDone := make(chan error, 1)
	go func() { httpDone <- g.httpServer.Shutdown(ctx) }()

	errs = appendCloseError(errs, "MCP shutdown", g.mcpServer.Shutdown(ctx))

	if err := <-httpDone; err != nil {
		errs = appendCloseError(errs, "HTTP shutdown", err)
		_ = g.httpServer.Close()
	}
	return errs
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	g.healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// stopBackground cancels the scheduler and watcher and waits for them.
// Running jobs are cancelled and awaited by the scheduler itself.
func (g *Gateway) stopBackground() {
	if g.bgCancel == nil {
		return
	}
	g.bgCancel()
	g.bgWG.Wait()
}

// closeComponents releases components that may be nil after a failed New.
func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.mcpServer != nil {
		g.mcpServer.Close()
	}
	if g.dispatcher != nil {
		g.dispatcher.Close()
	}
	if g.upstream != nil {
		g.upstream.Close()
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Order: stop accepting and drain MCP sessions, stop gRPC, stop the
// scheduler, then close the dispatcher, upstream clients, tailnet and store.
// Calling it more than once returns the first result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")
		g.ready.Store(false)

		errs := g.shutdownHTTP(ctx)
		if g.grpcServer != nil {
			g.shutdownGRPCServer(ctx)
		}
		g.stopBackground()
		errs = append(errs, g.closeComponents()...)

		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
		}
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the gateway is serving and has tools to offer.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not serving"))
		return
	}
	n := g.registry.Len()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no tools registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tools, %d sessions)", n, g.mcpServer.SessionCount())
}
