package ordersync

import (
	"testing"
	"time"

	"github.com/mmdatafocus/trackops_backend/models"
)

func TestDeriveOverall_Phases(t *testing.T) {
	s := &models.SyncSession{Phase: models.SyncPhasePreparing}
	if got := deriveOverall(s); got != 0 {
		t.Fatalf("preparing = %d, expected 0", got)
	}

	s = &models.SyncSession{
		Phase:             models.SyncPhaseSyncingPlatform,
		PlatformProcessed: 50,
		PlatformTotal:     100,
	}
	if got := deriveOverall(s); got != platformWeight/2 {
		t.Fatalf("half platform = %d, expected %d", got, platformWeight/2)
	}

	// Past the platform phase its full weight counts even without totals.
	s = &models.SyncSession{
		Phase:             models.SyncPhaseMatching,
		PlatformProcessed: 10,
		ProviderProcessed: 10,
		MatchingProcessed: 0,
		MatchingTotal:     40,
	}
	if got := deriveOverall(s); got != platformWeight+providerWeight {
		t.Fatalf("matching start = %d, expected %d", got, platformWeight+providerWeight)
	}

	s.MatchingProcessed = 40
	if got := deriveOverall(s); got != 99 {
		t.Fatalf("matching done = %d, expected clamp at 99", got)
	}

	s = &models.SyncSession{Phase: models.SyncPhaseCompleted}
	if got := deriveOverall(s); got != 100 {
		t.Fatalf("completed = %d, expected 100", got)
	}
}

func TestDeriveOverall_UnknownTotalsFloor(t *testing.T) {
	// Paging without a known total shows half the phase weight.
	s := &models.SyncSession{
		Phase:             models.SyncPhaseSyncingPlatform,
		PlatformProcessed: 30,
	}
	if got := deriveOverall(s); got != platformWeight/2 {
		t.Fatalf("unknown total = %d, expected %d", got, platformWeight/2)
	}
}

func TestSessionToResponse(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	session := &models.SyncSession{
		RunId:             7,
		Phase:             models.SyncPhaseCompleted,
		OverallProgress:   100,
		Version:           12,
		PlatformProcessed: 40,
		PlatformNew:       10,
		Matched:           8,
		Ambiguous:         1,
		ErrorCount:        2,
		StartTime:         start,
		EndTime:           &end,
	}

	resp := SessionToResponse(session)
	if resp.RunId != 7 || resp.Version != 12 {
		t.Fatalf("identity fields lost: %+v", resp)
	}
	if resp.Platform.Processed != 40 || resp.Platform.New != 10 {
		t.Fatalf("platform counters lost: %+v", resp.Platform)
	}
	if resp.Matching.Matched != 8 || resp.Matching.Ambiguous != 1 {
		t.Fatalf("match counters lost: %+v", resp.Matching)
	}
	if resp.StartTime != "2026-03-01T12:00:00Z" {
		t.Fatalf("start time %q", resp.StartTime)
	}
	if resp.EndTime == nil || *resp.EndTime != "2026-03-01T12:01:30Z" {
		t.Fatalf("end time %v", resp.EndTime)
	}
}
