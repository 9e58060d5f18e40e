// ABOUTME: Loads service definition files into the tool registry and keeps them in sync.
// ABOUTME: Watches the services directory with fsnotify and re-registers a service when its file changes.

package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/2389/toolgate/internal/tools"
)

// sourcePrefix namespaces upstream tools in the registry.
const sourcePrefix = "service:"

// ManagerConfig contains configuration options for the Manager.
type ManagerConfig struct {
	Registry   *tools.Registry
	Dir        string
	RetryDelay time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Debounce delays reloads so editors' multi-step writes apply once.
	Debounce time.Duration
}

// ServiceStatus is a snapshot of one loaded service.
type ServiceStatus struct {
	Name          string   `json:"name"`
	Category      string   `json:"category,omitempty"`
	Description   string   `json:"description,omitempty"`
	File          string   `json:"file"`
	BaseURL       string   `json:"base_url"`
	Tools         []string `json:"tools"`
	Breaker       string   `json:"breaker"`
	CachedEntries int      `json:"cached_entries"`
}

// Manager owns the upstream clients and their registry entries.
type Manager struct {
	registry   *tools.Registry
	dir        string
	retryDelay time.Duration
	httpClient *http.Client
	debounce   time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client // by service name
	files   map[string]string  // file path -> service name
}

// NewManager creates a Manager. Call LoadAll to register services.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Manager{
		registry:   cfg.Registry,
		dir:        cfg.Dir,
		retryDelay: cfg.RetryDelay,
		httpClient: cfg.HTTPClient,
		debounce:   debounce,
		logger:     logger.With("component", "upstream"),
		clients:    make(map[string]*Client),
		files:      make(map[string]string),
	}, nil
}

// LoadAll loads every service file in the directory. Files that fail to load
// are reported in the returned error; the rest are registered.
func (m *Manager) LoadAll() error {
	if m.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("reading services dir: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !IsServiceFile(entry.Name()) {
			continue
		}
		if err := m.LoadFile(filepath.Join(m.dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadFile (re)loads one service file and replaces its tools in the registry.
// A disabled service has its tools removed.
func (m *Manager) LoadFile(path string) error {
	svc, err := LoadFile(path)
	if err != nil {
		m.logger.Error("failed to load service file", "path", path, "error", err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.fileOwningLocked(svc.Name); ok && owner != path {
		err := fmt.Errorf("service %q already defined in %s", svc.Name, owner)
		m.logger.Error("failed to load service file", "path", path, "error", err)
		return err
	}

	// The file may have been renamed to a different service.
	if prev, ok := m.files[path]; ok && prev != svc.Name {
		m.removeServiceLocked(prev)
		delete(m.files, path)
	}

	if !svc.Enabled {
		m.logger.Info("service is disabled, skipping", "service", svc.Name, "path", path)
		m.removeServiceLocked(svc.Name)
		delete(m.files, path)
		return nil
	}

	client := NewClient(svc, ClientOptions{
		HTTPClient: m.httpClient,
		RetryDelay: m.retryDelay,
		Logger:     m.logger,
	})
	if err := m.registry.Replace(sourcePrefix+svc.Name, Descriptors(client)); err != nil {
		client.Close()
		m.logger.Error("failed to register service tools", "service", svc.Name, "error", err)
		return fmt.Errorf("registering service %s: %w", svc.Name, err)
	}

	if old, ok := m.clients[svc.Name]; ok {
		old.Close()
	}
	m.clients[svc.Name] = client
	m.files[path] = svc.Name

	m.logger.Info("registered service",
		"service", svc.Name,
		"category", svc.Category,
		"endpoints", len(svc.Endpoints),
		"path", path,
	)
	return nil
}

// RemoveFile unregisters the service that was loaded from path.
func (m *Manager) RemoveFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name, ok := m.files[path]
	if !ok {
		return
	}
	m.removeServiceLocked(name)
	delete(m.files, path)
	m.logger.Info("unregistered service", "service", name, "path", path)
}

func (m *Manager) fileOwningLocked(service string) (string, bool) {
	for path, name := range m.files {
		if name == service {
			return path, true
		}
	}
	return "", false
}

func (m *Manager) removeServiceLocked(name string) {
	if err := m.registry.Replace(sourcePrefix+name, nil); err != nil {
		m.logger.Warn("failed to remove service tools", "service", name, "error", err)
	}
	if c, ok := m.clients[name]; ok {
		c.Close()
		delete(m.clients, name)
	}
}

// Client returns the client for a loaded service.
func (m *Manager) Client(service string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[service]
	return c, ok
}

// Services returns a snapshot of loaded services sorted by name.
func (m *Manager) Services() []ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServiceStatus, 0, len(m.clients))
	for _, c := range m.clients {
		svc := c.Service()
		names := make([]string, len(svc.Endpoints))
		for i, ep := range svc.Endpoints {
			names[i] = ToolName(svc.Name, ep.Name)
		}
		out = append(out, ServiceStatus{
			Name:          svc.Name,
			Category:      svc.Category,
			Description:   svc.Description,
			File:          svc.File,
			BaseURL:       svc.BaseURL,
			Tools:         names,
			Breaker:       c.BreakerState(),
			CachedEntries: c.CachedEntries(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PurgeCaches drops expired cached responses across all services.
func (m *Manager) PurgeCaches() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, c := range m.clients {
		total += c.PurgeCache()
	}
	return total
}

// PurgeCachesJob adapts PurgeCaches to a scheduler callback.
func (m *Manager) PurgeCachesJob(context.Context) error {
	n := m.PurgeCaches()
	m.logger.Debug("purged upstream caches", "removed", n)
	return nil
}

// Watch reloads service files as they change until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	if m.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.dir); err != nil {
		return fmt.Errorf("watching %s: %w", m.dir, err)
	}
	m.logger.Info("watching services dir", "dir", m.dir)

	var (
		timersMu sync.Mutex
		timers   = make(map[string]*time.Timer)
	)
	defer func() {
		timersMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timersMu.Unlock()
	}()

	schedule := func(path string) {
		timersMu.Lock()
		defer timersMu.Unlock()
		if t, ok := timers[path]; ok {
			t.Stop()
		}
		timers[path] = time.AfterFunc(m.debounce, func() {
			timersMu.Lock()
			delete(timers, path)
			timersMu.Unlock()
			if ctx.Err() != nil {
				return
			}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				m.RemoveFile(path)
				return
			}
			_ = m.LoadFile(path)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsServiceFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				m.logger.Debug("service file event", "path", event.Name, "op", event.Op.String())
				schedule(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close releases all clients. Registered tools are left in place.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		c.Close()
	}
}
