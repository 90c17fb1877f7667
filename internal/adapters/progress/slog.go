// Package progress implements example contracts.ProgressReporter
// adapters (C13): structured logging and websocket fan-out.
package progress

import (
	"log/slog"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
)

// SlogReporter logs each progress callback at a level matching its
// severity.
type SlogReporter struct {
	logger *slog.Logger
}

var _ contracts.ProgressReporter = (*SlogReporter)(nil)

// NewSlogReporter builds a SlogReporter over logger (slog.Default() if nil).
func NewSlogReporter(logger *slog.Logger) *SlogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogReporter{logger: logger}
}

func (r *SlogReporter) ReportStatus(msg string) {
	r.logger.Info(msg)
}

func (r *SlogReporter) ReportProgress(current, total int, msg string) {
	r.logger.Info(msg, "current", current, "total", total)
}

func (r *SlogReporter) ReportComplete(msg string) {
	r.logger.Info(msg, "phase", "complete")
}

func (r *SlogReporter) ReportError(msg string) {
	r.logger.Error(msg)
}
