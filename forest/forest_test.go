package forest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/dfs-precac/model"
)

type statusCall struct {
	forest            string
	segments, cac, nl int
}

type fakeRecorder struct {
	calls []statusCall
}

func (r *fakeRecorder) SetForestStatus(forest string, segments, cacDone, nol int) {
	r.calls = append(r.calls, statusCall{forest, segments, cacDone, nol})
}

func (r *fakeRecorder) last() statusCall {
	if len(r.calls) == 0 {
		return statusCall{}
	}
	return r.calls[len(r.calls)-1]
}

func TestBuild_SkipsDuplicatesAndNonDFS(t *testing.T) {
	f := New("wifi0", nil)
	catalog := []model.CatalogChannel{
		{Channel: 42, Width: model.Width80},
		{Channel: 58, Width: model.Width80, DFS: true},
		{Channel: 58, Width: model.Width80, DFS: true},
		{Channel: 100, Width: model.Width20, DFS: true},
		{Channel: 106, Width: model.Width80, DFS: true},
		{Channel: 4, Width: model.Width80, DFS: true},
	}
	if got := f.Build(context.Background(), catalog); got != 2 {
		t.Fatalf("Build added %d entries, want 2", got)
	}
	if diff := cmp.Diff([]model.Channel{58, 106}, f.Segments()); diff != "" {
		t.Fatalf("segments mismatch (-want +got):\n%s", diff)
	}
	if f.Name() != "wifi0" {
		t.Fatalf("Name() = %q", f.Name())
	}
}

func TestBuild_LegalityFromCatalog(t *testing.T) {
	f := New("wifi0", nil)
	catalog := []model.CatalogChannel{
		{Channel: 106, Width: model.Width80, DFS: true},
		{Channel: 100, Width: model.Width20, DFS: true},
		{Channel: 104, Width: model.Width20, DFS: true},
		{Channel: 108, Width: model.Width20, DFS: true},
	}
	f.Build(context.Background(), catalog)

	snap := f.Snapshot()
	want := []EntryStatus{{
		Segment: 106,
		Nodes: []NodeStatus{
			{Channel: 106, Width: 80, Valid: 3},
			{Channel: 102, Width: 40, Valid: 2},
			{Channel: 100, Width: 20, Valid: 1},
			{Channel: 104, Width: 20, Valid: 1},
			{Channel: 110, Width: 40, Valid: 1},
			{Channel: 108, Width: 20, Valid: 1},
			{Channel: 112, Width: 20, Valid: 0},
		},
	}}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestPrefer_MovesEntryToFront(t *testing.T) {
	f := newForest(t, 58, 106, 122, 138)

	if !f.Prefer(124) {
		t.Fatalf("Prefer(124) reported no move")
	}
	if diff := cmp.Diff([]model.Channel{122, 58, 106, 138}, f.Segments()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if f.Prefer(36) {
		t.Fatalf("Prefer(36) moved an entry")
	}
	if f.Head() != 122 {
		t.Fatalf("Head() = %d, want 122", f.Head())
	}
	op := model.OperatingChannel{Center1: 42, Width: model.Width80}
	if got := f.Select(model.Width80, ExcludeOperating(op)); got != 122 {
		t.Fatalf("Select after Prefer = %d, want 122", got)
	}
}

func TestIsPrecacDone_Widths(t *testing.T) {
	ctx := context.Background()
	f := newForest(t, 58, 106, 122, 138)
	f.MarkCACDone(ctx, model.OperatingChannel{Center1: 58, Width: model.Width80})
	f.MarkCACDone(ctx, model.OperatingChannel{Center1: 100, Width: model.Width20})

	tests := []struct {
		name string
		op   model.OperatingChannel
		want bool
	}{
		{"20 cleared", model.OperatingChannel{Center1: 100, Width: model.Width20, DFS: true}, true},
		{"20 pending", model.OperatingChannel{Center1: 104, Width: model.Width20, DFS: true}, false},
		{"40 half cleared", model.OperatingChannel{Center1: 102, Width: model.Width40, DFS: true}, false},
		{"80 cleared", model.OperatingChannel{Center1: 58, Width: model.Width80, DFS: true}, true},
		{"80+80 second pending", model.OperatingChannel{Center1: 58, Center2: 106, Width: model.Width80P80, DFS: true, DFS2: true}, false},
		{"80+80 non-DFS primary", model.OperatingChannel{Center1: 42, Center2: 58, Width: model.Width80P80, DFS2: true}, true},
		{"160 second pending", model.OperatingChannel{Center1: 58, Center2: 50, Width: model.Width160, DFS: true}, true},
		{"unknown width", model.OperatingChannel{Center1: 58}, false},
	}
	for _, tc := range tests {
		if got := f.IsPrecacDone(tc.op); got != tc.want {
			t.Fatalf("%s: IsPrecacDone(%s) = %v, want %v", tc.name, tc.op, got, tc.want)
		}
	}
}

func TestMarkCACDone_160CoversBothSegments(t *testing.T) {
	f := newForest(t, 122, 138)
	op := model.OperatingChannel{Center1: 122, Center2: 130, Width: model.Width160, DFS: true, DFS2: true}

	if got := f.MarkCACDone(context.Background(), op); got != 8 {
		t.Fatalf("MarkCACDone marked %d subchannels, want 8", got)
	}
	if !f.IsPrecacDone(op) {
		t.Fatalf("160 MHz channel not cleared")
	}
	if got := f.MarkCACDone(context.Background(), op); got != 0 {
		t.Fatalf("re-marking changed %d subchannels", got)
	}
}

func TestMarkNOL_ReportsMarkedAndFirstError(t *testing.T) {
	ctx := context.Background()
	f := newForest(t, 106)

	marked, err := f.MarkNOL(ctx, []model.Channel{100, 36, 104})
	if err != nil {
		t.Fatalf("MarkNOL: %v", err)
	}
	if diff := cmp.Diff([]model.Channel{100, 104}, marked); diff != "" {
		t.Fatalf("marked mismatch (-want +got):\n%s", diff)
	}

	marked, err = f.MarkNOL(ctx, []model.Channel{100, 108})
	if !errors.Is(err, ErrNOLSaturated) {
		t.Fatalf("err = %v, want ErrNOLSaturated", err)
	}
	if diff := cmp.Diff([]model.Channel{108}, marked); diff != "" {
		t.Fatalf("marked after saturation mismatch (-want +got):\n%s", diff)
	}

	if err := f.UnmarkNOL(ctx, 36); !errors.Is(err, ErrSegmentNotFound) {
		t.Fatalf("UnmarkNOL(36) err = %v, want ErrSegmentNotFound", err)
	}
}

func TestSegmentState(t *testing.T) {
	ctx := context.Background()
	f := newForest(t, 58, 106)
	f.MarkCACDone(ctx, model.OperatingChannel{Center1: 58, Width: model.Width80})

	if got := f.SegmentState(60); got != StateDone {
		t.Fatalf("SegmentState(60) = %s", got)
	}
	if got := f.SegmentState(108); got != StateRequired {
		t.Fatalf("SegmentState(108) = %s", got)
	}
	_, _ = f.MarkNOL(ctx, []model.Channel{112})
	if got := f.SegmentState(108); got != StateNOL {
		t.Fatalf("SegmentState(108) after radar = %s", got)
	}
	if got := f.SegmentState(36); got != StateErr || got.String() != "PRECAC_ERR" {
		t.Fatalf("SegmentState(36) = %s", got)
	}
	if seg, ok := f.SegmentOf(110); !ok || seg != 106 {
		t.Fatalf("SegmentOf(110) = %d, %v", seg, ok)
	}
}

func TestReassign_MovesAndReplaces(t *testing.T) {
	ctx := context.Background()
	src := newForest(t, 58, 106, 122)
	dst := newForest(t, 106)
	src.MarkCACDone(ctx, model.OperatingChannel{Center1: 106, Width: model.Width80})

	moved, err := Reassign(ctx, dst, src, 100, 130)
	if err != nil || moved != 2 {
		t.Fatalf("Reassign = %d, %v, want 2", moved, err)
	}
	if diff := cmp.Diff([]model.Channel{58}, src.Segments()); diff != "" {
		t.Fatalf("source mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]model.Channel{106, 122}, dst.Segments()); diff != "" {
		t.Fatalf("destination mismatch (-want +got):\n%s", diff)
	}
	if !dst.IsCACDone(106) {
		t.Fatalf("replaced entry lost its status")
	}

	if _, err := Reassign(ctx, dst, dst, 0, 200); !errors.Is(err, ErrSameForest) {
		t.Fatalf("err = %v, want ErrSameForest", err)
	}
	if n, err := Reassign(ctx, nil, src, 0, 200); n != 0 || err != nil {
		t.Fatalf("Reassign with nil dst = %d, %v", n, err)
	}
}

func TestStatusRecorder(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	f := New("wifi1", nil, WithStatusRecorder(rec))

	f.Build(ctx, segmentsCatalog(58, 106))
	if got := rec.last(); got != (statusCall{"wifi1", 2, 0, 0}) {
		t.Fatalf("after build = %+v", got)
	}
	f.MarkCACDone(ctx, model.OperatingChannel{Center1: 58, Width: model.Width80})
	_, _ = f.MarkNOL(ctx, []model.Channel{100})
	if got := rec.last(); got != (statusCall{"wifi1", 2, 4, 1}) {
		t.Fatalf("after marks = %+v", got)
	}
	f.Reset(ctx, segmentsCatalog(122))
	if got := rec.last(); got != (statusCall{"wifi1", 1, 0, 0}) {
		t.Fatalf("after reset = %+v", got)
	}
}

func TestOperationsOnEmptyForest(t *testing.T) {
	ctx := context.Background()
	f := New("empty", nil)

	if got := f.Select(model.Width80, Exclusion{}); got != 0 {
		t.Fatalf("Select on empty forest = %d", got)
	}
	if marked, err := f.MarkNOL(ctx, []model.Channel{100}); len(marked) != 0 || err != nil {
		t.Fatalf("MarkNOL on empty forest = %v, %v", marked, err)
	}
	if f.MarkCACDone(ctx, model.OperatingChannel{Center1: 106, Width: model.Width80}) != 0 {
		t.Fatalf("MarkCACDone on empty forest marked subchannels")
	}
	if f.Head() != 0 || f.Contains(100) || f.IsCACDone(100) {
		t.Fatalf("empty forest reports content")
	}
	if !strings.HasPrefix(f.String(), "Precac status") {
		t.Fatalf("empty dump lacks header: %q", f.String())
	}
}
