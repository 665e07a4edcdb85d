package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/reconcile"
)

func batchSummary() domain.BatchSummary {
	started := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	ended := started.Add(4 * time.Minute)
	return domain.BatchSummary{
		BatchID:    "b1",
		SystemCode: "tin",
		StartedAt:  started,
		EndedAt:    ended,
		Attempted:  2,
		Succeeded:  1,
		Failed:     1,
		Skipped:    1,
		RowsLoaded: 95,
		Records: []domain.ExecutionRecord{
			{MappingCode: "dim_taxpayer", Status: domain.RunSuccess, Extracted: 100, Transformed: 100, Accepted: 95, Rejected: 5, Loaded: 95},
			{MappingCode: "dim_period", Status: domain.RunFailed, ErrorDetail: "source unavailable"},
			{MappingCode: "fact_return", Status: domain.RunSkipped, ErrorDetail: "skipped: dependency dim_period did not succeed"},
		},
	}
}

func TestBuildReport(t *testing.T) {
	checks := &reconcile.Report{
		BatchID: "b1",
		System:  "tin",
		Findings: []domain.ValidationFinding{
			{Category: domain.CheckRowCount, CheckName: "row_count:dim_taxpayer", Expected: "ratio 1 (+/-0.01)", Actual: "ratio 0.9500", Passed: true},
			{Category: domain.CheckReferential, CheckName: "fk:x", Expected: "0 orphans", Actual: "3 orphans", Passed: false},
		},
	}

	r := Build(batchSummary(), checks)
	if r.BatchID != "b1" || r.System != "tin" || r.RowsLoaded != 95 {
		t.Fatalf("report=%+v", r)
	}
	if len(r.Mappings) != 3 {
		t.Fatalf("mappings=%d, want 3", len(r.Mappings))
	}
	if r.Mappings[0].Loaded != 95 || r.Mappings[1].Error != "source unavailable" {
		t.Errorf("mappings=%+v", r.Mappings)
	}
	if r.Checks == nil || r.Checks.Passed {
		t.Fatalf("checks=%+v, want failed section", r.Checks)
	}
	if len(r.Checks.Findings) != 2 {
		t.Fatalf("findings=%d, want 2", len(r.Checks.Findings))
	}
}

func TestBuildReportWithoutChecks(t *testing.T) {
	r := Build(batchSummary(), nil)
	if r.Checks != nil {
		t.Fatalf("checks=%+v, want omitted", r.Checks)
	}
	data, err := r.Encode()
	if err != nil {
		t.Fatalf("Encode() err=%v", err)
	}
	if strings.Contains(string(data), "reconciliation") {
		t.Error("omitted check section still encoded")
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if decoded["batch_id"] != "b1" {
		t.Errorf("batch_id=%v", decoded["batch_id"])
	}
}

type fakePutter struct {
	bucket string
	name   string
	data   []byte
	opts   minio.PutObjectOptions
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, bucket, name string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.bucket, f.name, f.data, f.opts = bucket, name, data, opts
	return minio.UploadInfo{Bucket: bucket, Key: name, Size: size}, nil
}

func TestArchiverUploadsReport(t *testing.T) {
	putter := &fakePutter{}
	archiver := NewArchiver(putter, "dwbridge-reports", nil)

	name, err := archiver.Archive(context.Background(), Build(batchSummary(), nil))
	if err != nil {
		t.Fatalf("Archive() err=%v", err)
	}
	if name != "reports/b1.json" {
		t.Errorf("object name=%q", name)
	}
	if putter.bucket != "dwbridge-reports" || putter.name != "reports/b1.json" {
		t.Errorf("uploaded to %s/%s", putter.bucket, putter.name)
	}
	if putter.opts.ContentType != "application/json" {
		t.Errorf("content type=%q", putter.opts.ContentType)
	}

	var decoded Report
	if err := json.Unmarshal(putter.data, &decoded); err != nil {
		t.Fatalf("uploaded payload not valid JSON: %v", err)
	}
	if decoded.BatchID != "b1" || len(decoded.Mappings) != 3 {
		t.Errorf("decoded=%+v", decoded)
	}
}

func TestArchiverReportsUploadFailure(t *testing.T) {
	putter := &fakePutter{err: fmt.Errorf("connection refused")}
	archiver := NewArchiver(putter, "dwbridge-reports", nil)

	if _, err := archiver.Archive(context.Background(), Build(batchSummary(), nil)); err == nil {
		t.Fatal("Archive() err=nil, want upload error")
	}
}

func TestObjectName(t *testing.T) {
	if got := ObjectName("7f3a"); got != "reports/7f3a.json" {
		t.Errorf("ObjectName()=%q", got)
	}
}
