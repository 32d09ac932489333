// Package logging initializes the application-wide structured logger.
//
// A single JSON slog handler writes to stdout; packages obtain module-scoped
// loggers through ForModule. Level can be raised to debug at startup.
package logging

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	root    *slog.Logger
	leveler = new(slog.LevelVar)
)

// Init configures the global logger. Safe to call once at startup; callers
// that skip Init get a default info-level logger.
func Init(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	if debug {
		leveler.Set(slog.LevelDebug)
	} else {
		leveler.Set(slog.LevelInfo)
	}
	root = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: leveler}))
	slog.SetDefault(root)
}

// Logger returns the root logger, initializing a default one if needed.
func Logger() *slog.Logger {
	mu.RLock()
	l := root
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: leveler}))
	}
	return root
}

// ForModule returns a logger scoped to the given module name.
func ForModule(module string) *slog.Logger {
	return Logger().With("module", module)
}
