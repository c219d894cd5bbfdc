package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Observer is notified whenever the on-disk server configuration changes.
// Mirrors the teacher's config.Observer: the pool registers to re-reconcile
// when servers are added, removed, or edited.
type Observer interface {
	OnConfigChange(ctx context.Context, servers map[string]ServerConfig)
}

// Loader reads the downstream-server configuration file with viper and
// watches it for changes via fsnotify, exactly as the teacher's
// cmd/mcp-broker-router LoadConfig/viper.WatchConfig does, generalized
// from a single []*MCPServer slice to the tagged ServerConfig sum type.
type Loader struct {
	v         *viper.Viper
	path      string
	logger    *slog.Logger
	mu        sync.Mutex
	observers []Observer
}

// NewLoader creates a Loader for the config file at path.
func NewLoader(path string, logger *slog.Logger) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	return &Loader{v: v, path: path, logger: logger}
}

// RegisterObserver registers obs to be notified of future config changes.
func (l *Loader) RegisterObserver(obs Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, obs)
}

// Load reads the configuration file and returns the validated server map.
// A duplicate name is structurally impossible (the file format is itself a
// map), but an unknown transport or missing required field is a fatal
// configuration error, per spec. Self-referential servers are dropped with
// a warning rather than failing the whole load.
func (l *Loader) Load(ownCommand string) (map[string]ServerConfig, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", l.path, err)
	}

	raw := map[string]ServerConfig{}
	if err := l.v.UnmarshalKey("servers", &raw); err != nil {
		return nil, fmt.Errorf("decoding servers: %w", err)
	}

	out := make(map[string]ServerConfig, len(raw))
	for name, sc := range raw {
		sc.Name = name
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		if sc.IsSelfReference(ownCommand) {
			l.logger.Warn("dropping self-referential server", "server", name, "command", sc.Command)
			continue
		}
		out[name] = sc
	}
	return out, nil
}

// Watch starts watching the config file for changes, invoking Load and
// notifying observers on every change. It blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, ownCommand string) {
	l.v.WatchConfig()
	l.v.OnConfigChange(func(in fsnotify.Event) {
		l.logger.Info("config changed", "file", in.Name)
		servers, err := l.Load(ownCommand)
		if err != nil {
			l.logger.Error("failed to reload config", "error", err)
			return
		}
		l.notify(ctx, servers)
	})
	<-ctx.Done()
}

func (l *Loader) notify(ctx context.Context, servers map[string]ServerConfig) {
	l.mu.Lock()
	observers := append([]Observer(nil), l.observers...)
	l.mu.Unlock()
	for _, obs := range observers {
		obs.OnConfigChange(ctx, servers)
	}
}

// Notify explicitly re-notifies all observers of the current server set.
// Used once at startup after the first Load, mirroring the teacher's
// mcpConfig.Notify(ctx) call.
func (l *Loader) Notify(ctx context.Context, servers map[string]ServerConfig) {
	l.notify(ctx, servers)
}
