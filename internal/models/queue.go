package models

import "time"

type QueueManagement struct {
	QueueID    string    `json:"queue_id"`
	ScheduleID string    `json:"schedule_id"`
	Date       time.Time `json:"date"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type QueueEntry struct {
	EntryID       string    `json:"entry_id"`
	QueueID       string    `json:"queue_id"`
	AppointmentID *string   `json:"appointment_id,omitempty"`
	PatientID     *string   `json:"patient_id,omitempty"`
	QueueNumber   int       `json:"queue_number"`
	Progress      string    `json:"progress"`
	Status        string    `json:"status"`
	Served        bool      `json:"served"`
	Type          string    `json:"type"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	QueueStatusOut         = "out"
	QueueStatusInQueue     = "in_queue"
	QueueStatusInProgress  = "in_progress"
	QueueStatusCompleted   = "completed"
	QueueStatusCancelled   = "cancelled"
	QueueStatusRescheduled = "rescheduled"
)

const (
	EntryStatusWaiting    = "waiting"
	EntryStatusAttended   = "attended"
	EntryStatusUnattended = "unattended"
	EntryStatusSkipped    = "skipped"
	EntryStatusCancelled  = "cancelled"
)

const (
	EntryProgressPending = "pending"
	EntryProgressDone    = "done"
)

const (
	EntryTypeOnline   = "online"
	EntryTypeWalkIn   = "walk_in"
	EntryTypeFollowUp = "follow_up"
)
