package models

import "time"

// Schedule is a recurring weekly consultation block for one doctor.
type Schedule struct {
	ScheduleID string    `json:"schedule_id"`
	DoctorID   string    `json:"doctor_id"`
	DoctorName string    `json:"doctor_name,omitempty"`
	DayOfWeek  string    `json:"day_of_week"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	SlotCount  int       `json:"slot_count"`
	Active     bool      `json:"active"`
	Deleted    bool      `json:"deleted"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Appointment struct {
	AppointmentID string    `json:"appointment_id"`
	ScheduleID    string    `json:"schedule_id"`
	PatientID     string    `json:"patient_id"`
	Date          time.Time `json:"date"`
	Time          string    `json:"time"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	AppointmentStatusPending   = "pending"
	AppointmentStatusInQueue   = "in_queue"
	AppointmentStatusCancelled = "cancelled"
)

var weekdays = map[string]bool{
	"Monday":    true,
	"Tuesday":   true,
	"Wednesday": true,
	"Thursday":  true,
	"Friday":    true,
	"Saturday":  true,
	"Sunday":    true,
}

func ValidDayOfWeek(day string) bool {
	return weekdays[day]
}
