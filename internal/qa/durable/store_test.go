package durable

import (
	"context"
	"testing"

	"manifold/internal/qa/types"
)

type fakeRelational struct {
	summaryCalls    int
	activityCalls   int
	descriptorCalls int
}

func (f *fakeRelational) WriteFinalSummary(_ context.Context, _ string, _ types.RollingSummary) error {
	f.summaryCalls++
	return nil
}

func (f *fakeRelational) IncrementUserActivity(_ context.Context, _ string, _, _ int, _ float64) error {
	f.activityCalls++
	return nil
}

func (f *fakeRelational) PrependSessionDescriptor(_ context.Context, _ string, _ types.SessionDescriptor, _ int) error {
	f.descriptorCalls++
	return nil
}

type fakeAnalytics struct {
	batches [][]types.AnalyticsRecord
}

func (f *fakeAnalytics) WriteAnalyticsBatch(_ context.Context, records []types.AnalyticsRecord) error {
	f.batches = append(f.batches, records)
	return nil
}

func TestStoreDispatchesToBackingSinks(t *testing.T) {
	rel := &fakeRelational{}
	an := &fakeAnalytics{}
	store := NewStore(rel, an)
	ctx := context.Background()

	_ = store.WriteFinalSummary(ctx, "s1", types.RollingSummary{Text: "x"})
	_ = store.WriteAnalyticsBatch(ctx, []types.AnalyticsRecord{{SessionID: "s1"}})
	_ = store.IncrementUserActivity(ctx, "u1", 1, 2, 0.5)
	_ = store.PrependSessionDescriptor(ctx, "u1", types.SessionDescriptor{SessionID: "s1"}, 5)

	if rel.summaryCalls != 1 || rel.activityCalls != 1 || rel.descriptorCalls != 1 {
		t.Errorf("expected relational sink called once per method, got %+v", rel)
	}
	if len(an.batches) != 1 || len(an.batches[0]) != 1 {
		t.Errorf("expected one analytics batch of one record, got %+v", an.batches)
	}
}
