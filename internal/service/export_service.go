package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
	"github.com/noah-isme/spire-automator/pkg/export"
	"github.com/noah-isme/spire-automator/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type renderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

// ExportResult describes one rendered export file.
type ExportResult struct {
	RunID        string    `json:"run_id"`
	Format       string    `json:"format"`
	RelativePath string    `json:"path"`
	URL          string    `json:"url,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Rows         int       `json:"rows"`
}

// ExportService renders end-of-run reports and serves them through signed links.
type ExportService struct {
	storage   fileStorage
	signer    *storage.DownloadSigner
	renderers map[string]renderer
	formats   []string
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. Unknown formats are dropped with a
// warning; with none left, CSV is used. A nil signer disables download links.
func NewExportService(store fileStorage, signer *storage.DownloadSigner, formats []string, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	renderers := map[string]renderer{}
	for _, r := range []renderer{export.NewCSVExporter(), export.NewPDFExporter()} {
		renderers[r.Extension()] = r
	}
	selected := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if _, ok := renderers[f]; !ok {
			logger.Warn("ignoring unsupported export format", zap.String("format", f))
			continue
		}
		selected = append(selected, f)
	}
	if len(selected) == 0 {
		selected = []string{"csv"}
	}
	return &ExportService{storage: store, signer: signer, renderers: renderers, formats: selected, logger: logger, now: time.Now}
}

// ExportSchedule writes the final schedule observed by a run.
func (s *ExportService) ExportSchedule(ctx context.Context, run *models.Run, snap models.Snapshot) ([]ExportResult, error) {
	data := export.Dataset{
		Title:   "Final schedule",
		Notes:   s.notes(run, "snapshot generation "+strconv.FormatUint(snap.Generation, 10)),
		Headers: []string{"Lecture ID", "Lecture", "Description", "Discussion", "Seats"},
	}
	for _, lecture := range snap.ScheduleList() {
		row := map[string]string{
			"Lecture ID":  lecture.ID,
			"Lecture":     lecture.Name,
			"Description": lecture.Description,
			"Seats":       string(snap.SeatStatus(lecture.ID)),
		}
		if lecture.Enrolled != nil {
			row["Discussion"] = lecture.Enrolled.String()
			row["Seats"] = string(snap.SeatStatus(lecture.Enrolled.ID))
		}
		data.Rows = append(data.Rows, row)
	}
	return s.write(ctx, run, "schedule", data)
}

// ExportAttempts writes the attempt ledger of a run.
func (s *ExportService) ExportAttempts(ctx context.Context, run *models.Run, attempts []models.ActionAttempt) ([]ExportResult, error) {
	data := export.Dataset{
		Title:   "Action attempts",
		Notes:   s.notes(run, strconv.Itoa(len(attempts))+" attempts"),
		Headers: []string{"Cycle", "Action", "Kind", "Outcome", "Satisfied By", "Duration (ms)", "Error"},
	}
	for _, a := range attempts {
		row := map[string]string{
			"Cycle":         strconv.Itoa(a.Cycle),
			"Action":        a.Description,
			"Kind":          a.ActionKind,
			"Outcome":       string(a.Outcome),
			"Duration (ms)": strconv.FormatInt(a.DurationMs, 10),
		}
		if a.SatisfiedBy != nil {
			row["Satisfied By"] = *a.SatisfiedBy
		}
		if a.Error != nil {
			row["Error"] = *a.Error
		}
		data.Rows = append(data.Rows, row)
	}
	return s.write(ctx, run, "attempts", data)
}

// ExportAssignment writes the room a housing run ended in.
func (s *ExportService) ExportAssignment(ctx context.Context, run *models.Run, room models.Room) ([]ExportResult, error) {
	data := export.Dataset{
		Title:   "Room assignment",
		Notes:   s.notes(run, ""),
		Headers: []string{"Area", "Building", "Room", "Design", "Type"},
		Rows: []map[string]string{{
			"Area":     room.Area,
			"Building": room.Building,
			"Room":     room.Number,
			"Design":   room.Design,
			"Type":     room.Type,
		}},
	}
	return s.write(ctx, run, "assignment", data)
}

// OpenDownload resolves a signed token to an open file and its content type.
func (s *ExportService) OpenDownload(token string) (*os.File, string, error) {
	if s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "downloads are disabled")
	}
	download, err := s.signer.Verify(token)
	switch {
	case errors.Is(err, storage.ErrExpiredToken):
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "download link expired")
	case err != nil:
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download link")
	}
	if !strings.HasPrefix(download.Path, download.RunID+"/") {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	file, err := s.storage.Open(download.Path)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export not found")
	}
	contentType := "application/octet-stream"
	if r, ok := s.renderers[strings.TrimPrefix(path.Ext(download.Path), ".")]; ok {
		contentType = r.ContentType()
	}
	return file, contentType, nil
}

// Cleanup removes exports older than retention.
func (s *ExportService) Cleanup(retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	deleted, err := s.storage.CleanupOlderThan(retention)
	if err != nil {
		return 0, err
	}
	if len(deleted) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(deleted)))
	}
	return len(deleted), nil
}

func (s *ExportService) write(ctx context.Context, run *models.Run, name string, data export.Dataset) ([]ExportResult, error) {
	if run == nil || run.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "export requires a run")
	}
	results := make([]ExportResult, 0, len(s.formats))
	for _, format := range s.formats {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := s.renderers[format]
		payload, err := r.Render(data)
		if err != nil {
			return results, fmt.Errorf("render %s %s: %w", name, format, err)
		}
		rel, err := s.storage.Save(path.Join(run.ID, name+"."+r.Extension()), payload)
		if err != nil {
			return results, err
		}
		result := ExportResult{RunID: run.ID, Format: format, RelativePath: rel, Rows: len(data.Rows)}
		if s.signer != nil {
			token, expiresAt, err := s.signer.Sign(run.ID, rel)
			if err != nil {
				return results, err
			}
			result.URL = "/exports/" + token
			result.ExpiresAt = expiresAt
		}
		s.logger.Info("export written", zap.String("run_id", run.ID), zap.String("path", rel), zap.Int("rows", result.Rows))
		results = append(results, result)
	}
	return results, nil
}

func (s *ExportService) notes(run *models.Run, extra string) []string {
	notes := []string{"Generated " + s.now().UTC().Format(time.RFC3339)}
	if run != nil {
		line := "Run " + run.ID
		if run.Term != "" {
			line += ", term " + run.Term
		}
		notes = append(notes, line)
	}
	if extra != "" {
		notes = append(notes, extra)
	}
	return notes
}
