package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/errors"
)

// Export formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	// Path defaults to <base>/exports/review-<timestamp>.<format>.
	Path string `json:"path,omitempty"`

	// Format is "jsonl" or "csv". Empty infers it from Path, else jsonl.
	Format string `json:"format,omitempty"`

	Review ReviewInput `json:"review"`
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Format     string `json:"format"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of a JSONL export.
type ExportHeader struct {
	QAExport      bool   `json:"_qafinder_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
	WindowFrom    string `json:"window_from,omitempty"`
	WindowTo      string `json:"window_to,omitempty"`
}

// csvColumns is the CSV header row.
var csvColumns = []string{
	"id", "score", "reasons", "assignee_name", "bpo", "csat", "payer_tier",
	"topic", "sub_topic", "tags", "updated_at", "subject", "ticket_url",
}

// Export runs a review and writes the ranked result to a file. The file is
// written to a temporary name and renamed into place, so an existing export
// is never left half-written.
func Export(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	now := time.Now()

	format, err := exportFormat(input.Format, input.Path)
	if err != nil {
		return nil, err
	}
	exportPath := input.Path
	if exportPath == "" {
		name := fmt.Sprintf("review-%s.%s", now.UTC().Format("2006-01-02T150405"), format)
		exportPath = filepath.Join(cfg.ExportsDir(), name)
	}
	if err := ValidateExportPath(exportPath, cfg); err != nil {
		return nil, err
	}

	review, err := Review(ctx, database, cfg, input.Review)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	switch format {
	case FormatCSV:
		err = writeCSV(w, review)
	default:
		err = writeJSONL(w, review, now)
	}
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to write export: %w", err))
	}

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink planted since validation.
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}

	// On Windows os.Rename fails when the destination exists; the existing
	// file is kept rather than risking a non-atomic replace.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{
		Path:       exportPath,
		Format:     format,
		Count:      len(review.Items),
		ExportedAt: now.Unix(),
	}, nil
}

func exportFormat(format, path string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		if strings.EqualFold(filepath.Ext(path), ".csv") {
			return FormatCSV, nil
		}
		return FormatJSONL, nil
	}
	if format != FormatJSONL && format != FormatCSV {
		return "", errors.NewInvalidRequest(fmt.Sprintf("format must be jsonl or csv (got %q)", format))
	}
	if path != "" && !strings.EqualFold(filepath.Ext(path), "."+format) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("path extension does not match format %q", format))
	}
	return format, nil
}

func writeJSONL(w io.Writer, review *ReviewOutput, now time.Time) error {
	enc := json.NewEncoder(w)
	header := ExportHeader{
		QAExport:      true,
		SchemaVersion: "1.0",
		ExportedAt:    now.Unix(),
		WindowFrom:    formatBound(review.Window.From),
		WindowTo:      formatBound(review.Window.To),
	}
	if err := enc.Encode(header); err != nil {
		return err
	}
	for i := range review.Items {
		if err := enc.Encode(&review.Items[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(w io.Writer, review *ReviewOutput) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, it := range review.Items {
		csat := ""
		if it.CSAT != nil {
			csat = strconv.Itoa(*it.CSAT)
		}
		record := []string{
			strconv.FormatInt(it.ID, 10),
			strconv.Itoa(it.Score),
			strings.Join(it.Reasons, "; "),
			it.AssigneeName,
			deref(it.BPO),
			csat,
			deref(it.PayerTier),
			deref(it.Topic),
			deref(it.SubTopic),
			strings.Join(it.Tags, ","),
			it.UpdatedAt,
			it.Subject,
			it.URL,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
