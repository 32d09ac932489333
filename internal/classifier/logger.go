// Package classifier implements the hierarchical classification cascade:
// class maps, the per-level classifier registry, label routing, single-region
// inference and the level-by-level orchestrator.
package classifier

import (
	"log/slog"
	"sync"

	"github.com/insectid/insectid-go/internal/logging"
)

var (
	serviceLogger *slog.Logger
	initOnce      sync.Once
)

// GetLogger returns the classifier package logger.
func GetLogger() *slog.Logger {
	initOnce.Do(func() {
		serviceLogger = logging.ForModule("classifier")
	})
	return serviceLogger
}
