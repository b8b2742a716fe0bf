package postgres

import (
	"testing"
	"time"

	"clinicq/internal/models"
)

func TestClockMinutes(t *testing.T) {
	cases := []struct {
		clock   string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"13:05", 785, false},
		{"23:59", 1439, false},
		{"09:30:00", 570, false},
		{"24:00", 0, true},
		{"09:60", 0, true},
		{"morning", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := clockMinutes(tc.clock)
		if tc.wantErr {
			if err == nil {
				t.Errorf("clockMinutes(%q): expected error", tc.clock)
			}
			continue
		}
		if err != nil {
			t.Errorf("clockMinutes(%q): %v", tc.clock, err)
			continue
		}
		if got != tc.want {
			t.Errorf("clockMinutes(%q) = %d, want %d", tc.clock, got, tc.want)
		}
	}
}

func TestDateOnly(t *testing.T) {
	manila, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	value := time.Date(2026, 3, 14, 18, 45, 12, 0, manila)
	got := dateOnly(value)
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("dateOnly = %v, want %v", got, want)
	}
}

func TestValidEntryStatus(t *testing.T) {
	valid := []string{
		models.EntryStatusWaiting,
		models.EntryStatusAttended,
		models.EntryStatusUnattended,
		models.EntryStatusSkipped,
		models.EntryStatusCancelled,
	}
	for _, status := range valid {
		if !validEntryStatus(status) {
			t.Errorf("expected %q to be valid", status)
		}
	}
	for _, status := range []string{"done", "Attended", "in_progress", ""} {
		if validEntryStatus(status) {
			t.Errorf("expected %q to be invalid", status)
		}
	}
}

func TestNextIdleQueue(t *testing.T) {
	items := []lifecycleRow{
		{queueID: "q1", scheduleID: "s1", status: models.QueueStatusCompleted},
		{queueID: "q2", scheduleID: "s1", status: models.QueueStatusOut},
		{queueID: "q3", scheduleID: "s1", status: models.QueueStatusInQueue},
		{queueID: "q4", scheduleID: "s2", status: models.QueueStatusOut},
	}

	next := nextIdleQueue(items, 0)
	if next == nil || next.queueID != "q2" {
		t.Fatalf("expected q2 promoted, got %+v", next)
	}

	// Promotion never crosses into another schedule.
	items[1].status = models.QueueStatusCompleted
	items[2].status = models.QueueStatusCancelled
	if next := nextIdleQueue(items, 0); next != nil {
		t.Fatalf("expected no candidate, got %+v", next)
	}

	// Last queue of a schedule has nothing after it.
	if next := nextIdleQueue(items, 3); next != nil {
		t.Fatalf("expected nil at tail, got %+v", next)
	}
}
