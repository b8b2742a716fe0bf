package store

import "clinicq/internal/models"

// Queue statuses only move forward. A completed, cancelled or rescheduled
// queue never becomes active again.
var transitionMap = map[string][]string{
	"activate":   {models.QueueStatusOut, models.QueueStatusInQueue},
	"complete":   {models.QueueStatusOut, models.QueueStatusInQueue, models.QueueStatusInProgress},
	"cancel":     {models.QueueStatusOut, models.QueueStatusInQueue, models.QueueStatusInProgress},
	"reschedule": {models.QueueStatusOut, models.QueueStatusInQueue, models.QueueStatusInProgress},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
