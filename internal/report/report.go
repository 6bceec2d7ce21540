package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"fx-price-feeder/internal/crosscheck"
)

const (
	// SchemaRun versions the per-cycle run report shape.
	SchemaRun = "run.v1"
	// SchemaInverse versions the cross-checker report shape.
	SchemaInverse = "inverse.v1"

	runFileName     = "run.json"
	inverseFileName = "inverse.json"
	archiveDirName  = "archive"
	stampLayout     = "20060102T150405Z"
)

// SymbolEntry summarises one asset inside a run report.
type SymbolEntry struct {
	Provider    string   `json:"provider"`
	Price       float64  `json:"price"`
	GooglePrice *float64 `json:"googlePrice,omitempty"`
	DiffPct     *float64 `json:"diffPct,omitempty"`
	Path        string   `json:"path,omitempty"`
	OK          bool     `json:"ok"`
}

// RunReport is the run.v1 document written after every cycle.
type RunReport struct {
	Schema        string                 `json:"schema"`
	TS            int64                  `json:"ts"`
	Updated       int                    `json:"updated"`
	Skipped       int                    `json:"skipped"`
	FallbackUsed  int                    `json:"fallbackUsed"`
	CheckerAlerts int                    `json:"checkerAlerts"`
	Symbols       map[string]SymbolEntry `json:"symbols"`
	ProviderOrder []string               `json:"providerOrder"`
	ByProvider    map[string]int         `json:"byProvider"`
	CycleMs       int64                  `json:"cycleMs"`
	FallbackRatio float64                `json:"fallbackRatio"`
	AvgDiffFx     float64                `json:"avgDiffFx"`
	AvgDiffXAU    float64                `json:"avgDiffXAU"`
}

// InverseItem is one cross-check outcome plus the provider it validated.
type InverseItem struct {
	crosscheck.Outcome
	Provider string `json:"provider"`
}

// InverseReport is the inverse.v1 document.
type InverseReport struct {
	Schema string        `json:"schema"`
	TS     int64         `json:"ts"`
	Alerts []string      `json:"alerts"`
	Tested int           `json:"tested"`
	Items  []InverseItem `json:"items"`
}

// Writer persists cycle reports and maintains the dated archive.
type Writer struct {
	dir       string
	retention int
	logger    zerolog.Logger
	now       func() time.Time
}

// NewWriter builds a report writer rooted at dir, keeping the newest
// retention archive snapshots.
func NewWriter(dir string, retention int, logger zerolog.Logger) *Writer {
	if retention <= 0 {
		retention = 50
	}
	return &Writer{
		dir:       dir,
		retention: retention,
		logger:    logger.With().Str("component", "report_writer").Logger(),
		now:       time.Now,
	}
}

// Write persists both documents for a cycle, snapshots them into the dated
// archive, and prunes archives beyond the retention cap.
func (w *Writer) Write(run RunReport, inverse InverseReport) error {
	run.Schema = SchemaRun
	inverse.Schema = SchemaInverse

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	if err := writeJSON(filepath.Join(w.dir, runFileName), run); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(w.dir, inverseFileName), inverse); err != nil {
		return err
	}

	stamp := w.now().UTC().Format(stampLayout)
	archiveDir := filepath.Join(w.dir, archiveDirName, stamp)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	if err := writeJSON(filepath.Join(archiveDir, runFileName), run); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(archiveDir, inverseFileName), inverse); err != nil {
		return err
	}

	w.prune()
	return nil
}

// ReadRun loads and validates the latest run report.
func (w *Writer) ReadRun() (*RunReport, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, runFileName))
	if err != nil {
		return nil, err
	}

	var run RunReport
	if err := json.Unmarshal(data, &run); err != nil {
		w.logger.Error().Err(err).Msg("[REPORT:INVALID] run report is not valid JSON")
		return nil, fmt.Errorf("decode run report: %w", err)
	}
	if run.Schema != SchemaRun {
		w.logger.Error().Str("schema", run.Schema).Msg("[REPORT:INVALID] unknown run report schema")
		return nil, fmt.Errorf("unknown run report schema %q", run.Schema)
	}
	return &run, nil
}

// ReadInverse loads and validates the latest inverse report.
func (w *Writer) ReadInverse() (*InverseReport, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, inverseFileName))
	if err != nil {
		return nil, err
	}

	var inv InverseReport
	if err := json.Unmarshal(data, &inv); err != nil {
		w.logger.Error().Err(err).Msg("[REPORT:INVALID] inverse report is not valid JSON")
		return nil, fmt.Errorf("decode inverse report: %w", err)
	}
	if inv.Schema != SchemaInverse {
		w.logger.Error().Str("schema", inv.Schema).Msg("[REPORT:INVALID] unknown inverse report schema")
		return nil, fmt.Errorf("unknown inverse report schema %q", inv.Schema)
	}
	return &inv, nil
}

// Archives lists archive snapshot names, oldest first.
func (w *Writer) Archives() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.dir, archiveDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *Writer) prune() {
	names, err := w.Archives()
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to list archives for pruning")
		return
	}
	if len(names) <= w.retention {
		return
	}

	for _, name := range names[:len(names)-w.retention] {
		path := filepath.Join(w.dir, archiveDirName, name)
		if err := os.RemoveAll(path); err != nil {
			w.logger.Warn().Err(err).Str("archive", name).Msg("failed to prune archive")
			continue
		}
		w.logger.Debug().Str("archive", name).Msg("pruned archive snapshot")
	}
}

func writeJSON(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
