package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/aarelaponin/dwbridge/internal/domain"
	"github.com/aarelaponin/dwbridge/internal/repo"
)

func TestAppendAndListFindings(t *testing.T) {
	store := NewFindingStore(openTestDB(t))
	ctx := context.Background()
	checkedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	findings := []domain.ValidationFinding{
		{
			BatchID:   "b1",
			Category:  domain.CheckRowCount,
			Entity:    "l3.dim_taxpayer",
			CheckName: "row_count:dim_taxpayer",
			Expected:  "ratio 1 (+/-0.01)",
			Actual:    "ratio 1.0000",
			Passed:    true,
			CheckedAt: checkedAt,
		},
		{
			BatchID:   "b1",
			Category:  domain.CheckReferential,
			Entity:    "l3.fact_return",
			CheckName: "fk:l3.fact_return.taxpayer_id->l3.dim_taxpayer.taxpayer_id",
			Expected:  "0 orphans",
			Actual:    "3 orphans",
			Passed:    false,
			CheckedAt: checkedAt.Add(time.Second),
		},
	}
	if err := store.AppendFindings(ctx, findings); err != nil {
		t.Fatalf("AppendFindings() err=%v", err)
	}

	all, err := store.ListFindings(ctx, repo.FindingFilter{BatchID: "b1"})
	if err != nil {
		t.Fatalf("ListFindings() err=%v", err)
	}
	if len(all) != 2 {
		t.Fatalf("findings=%d, want 2", len(all))
	}
	if all[0].Category != domain.CheckRowCount || !all[0].Passed {
		t.Fatalf("first finding=%+v", all[0])
	}

	failedOnly, err := store.ListFindings(ctx, repo.FindingFilter{BatchID: "b1", Category: domain.CheckReferential})
	if err != nil {
		t.Fatalf("ListFindings(category) err=%v", err)
	}
	if len(failedOnly) != 1 || failedOnly[0].Passed {
		t.Fatalf("referential findings=%+v", failedOnly)
	}
}

func TestAppendFindingsRequiresCheckName(t *testing.T) {
	store := NewFindingStore(openTestDB(t))
	err := store.AppendFindings(context.Background(), []domain.ValidationFinding{{BatchID: "b1"}})
	if err == nil {
		t.Fatal("AppendFindings() err=nil, want error")
	}
}
