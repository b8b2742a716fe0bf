package store

import "errors"

var (
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrQueueNotFound       = errors.New("queue not found")
	ErrEntryNotFound       = errors.New("queue entry not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrAlreadyAttended     = errors.New("entry already attended")
	ErrAlreadyQueued       = errors.New("appointment already in queue")
	ErrInvalidState        = errors.New("invalid queue state")
	ErrScheduleOverlap     = errors.New("schedule overlaps existing schedule")
	ErrInvalidStatus       = errors.New("invalid status value")
	ErrInvalidType         = errors.New("invalid entry type")
)
