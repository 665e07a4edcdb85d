// Package report renders batch run reports and archives them in the
// object store.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/reconcile"
)

// Report is the archived record of one batch: per-mapping outcomes plus
// the reconciliation findings when reconciliation ran.
type Report struct {
	BatchID    string         `json:"batch_id"`
	System     string         `json:"system"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Attempted  int            `json:"attempted"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	RowsLoaded int64          `json:"rows_loaded"`
	Mappings   []MappingEntry `json:"mappings"`
	Checks     *CheckSection  `json:"reconciliation,omitempty"`
}

type MappingEntry struct {
	Code        string `json:"code"`
	Status      string `json:"status"`
	DryRun      bool   `json:"dry_run,omitempty"`
	Extracted   int64  `json:"extracted"`
	Transformed int64  `json:"transformed"`
	Accepted    int64  `json:"accepted"`
	Rejected    int64  `json:"rejected"`
	Loaded      int64  `json:"loaded"`
	Error       string `json:"error,omitempty"`
}

type CheckSection struct {
	Passed   bool         `json:"passed"`
	Findings []CheckEntry `json:"findings"`
}

type CheckEntry struct {
	Category string `json:"category"`
	Entity   string `json:"entity,omitempty"`
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
}

// Build assembles the report from a batch summary and an optional
// reconciliation report.
func Build(summary domain.BatchSummary, checks *reconcile.Report) Report {
	out := Report{
		BatchID:    summary.BatchID,
		System:     summary.SystemCode,
		StartedAt:  summary.StartedAt,
		EndedAt:    summary.EndedAt,
		Attempted:  summary.Attempted,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
		RowsLoaded: summary.RowsLoaded,
	}
	for _, record := range summary.Records {
		out.Mappings = append(out.Mappings, MappingEntry{
			Code:        record.MappingCode,
			Status:      string(record.Status),
			DryRun:      record.DryRun,
			Extracted:   record.Extracted,
			Transformed: record.Transformed,
			Accepted:    record.Accepted,
			Rejected:    record.Rejected,
			Loaded:      record.Loaded,
			Error:       record.ErrorDetail,
		})
	}
	if checks != nil {
		section := &CheckSection{Passed: checks.Passed()}
		for _, finding := range checks.Findings {
			section.Findings = append(section.Findings, CheckEntry{
				Category: string(finding.Category),
				Entity:   finding.Entity,
				Name:     finding.CheckName,
				Expected: finding.Expected,
				Actual:   finding.Actual,
				Passed:   finding.Passed,
				Detail:   finding.Detail,
			})
		}
		out.Checks = section
	}
	return out
}

// Encode renders the report as indented JSON.
func (r Report) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return data, nil
}

// ObjectPutter is the slice of the MinIO client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, name string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver uploads encoded reports under reports/<batch-id>.json.
type Archiver struct {
	client ObjectPutter
	bucket string
	logger *slog.Logger
}

func NewArchiver(client ObjectPutter, bucket string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{client: client, bucket: bucket, logger: logger}
}

// ObjectName returns the archive key for one batch.
func ObjectName(batchID string) string {
	return "reports/" + batchID + ".json"
}

func (a *Archiver) Archive(ctx context.Context, r Report) (string, error) {
	data, err := r.Encode()
	if err != nil {
		return "", err
	}
	name := ObjectName(r.BatchID)
	_, err = a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("archive report %s: %w", name, err)
	}
	a.logger.Info("report archived", "bucket", a.bucket, "object", name, "bytes", len(data))
	return name, nil
}
