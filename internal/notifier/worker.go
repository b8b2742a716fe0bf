package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"clinicq/internal/store"

	"github.com/google/uuid"
)

const staffRecipient = "front-desk"

type Worker struct {
	store         store.NotificationStore
	batchSize     int
	maxAttempts   int
	smsProvider   Provider
	staffProvider Provider
}

type payloadData map[string]interface{}

type Config struct {
	BatchSize     int
	MaxAttempts   int
	SMSProvider   string
	StaffProvider string
}

func New(st store.NotificationStore, cfg Config) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		store:         st,
		batchSize:     batch,
		maxAttempts:   maxAttempts,
		smsProvider:   newProvider(cfg.SMSProvider, "sms"),
		staffProvider: newProvider(cfg.StaffProvider, "staff"),
	}
}

// Run drains one batch of outbox events past the stored offset. Delivery
// failures are recorded on the notification row and never bubble into the
// queue engine.
func (w *Worker) Run(ctx context.Context) error {
	last, err := w.store.GetLastOffset(ctx)
	if err != nil {
		return err
	}

	events, err := w.store.ListOutboxEvents(ctx, last, w.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			log.Printf("notif process error event=%s: %v", event.EventID, err)
		}
		last = event.CreatedAt
	}

	if !last.IsZero() {
		if err := w.store.UpdateOffset(ctx, last); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) processEvent(ctx context.Context, event store.OutboxEvent) error {
	templateID := templateForEvent(event.Type)
	if templateID == "" {
		return nil
	}

	payload := payloadData{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return err
	}

	for _, channel := range pickChannels(event.Type, payload) {
		body, err := w.store.GetTemplate(ctx, templateID, channel.name)
		if err != nil {
			return err
		}
		message := renderTemplate(body, payload)
		if message == "" || strings.Contains(message, "{") {
			message = renderTemplate(defaultTemplate(templateID), payload)
		}

		notification := store.Notification{
			NotificationID: uuid.NewString(),
			Channel:        channel.name,
			Recipient:      channel.recipient,
			Message:        message,
			Status:         "pending",
			Attempts:       1,
		}
		if err := w.store.InsertNotification(ctx, notification); err != nil {
			return err
		}

		provider := w.staffProvider
		if channel.name == "sms" {
			provider = w.smsProvider
		}
		if providerErr := provider.Send(ctx, message, channel.recipient); providerErr != nil {
			if err := w.store.MarkNotificationFailed(ctx, notification.NotificationID, providerErr.Error()); err != nil {
				return err
			}
			if notification.Attempts >= w.maxAttempts {
				if err := w.store.InsertDLQ(ctx, notification.NotificationID, "max attempts reached"); err != nil {
					return err
				}
			}
			continue
		}
		if err := w.store.MarkNotificationSent(ctx, notification.NotificationID); err != nil {
			return err
		}
	}
	return nil
}

func templateForEvent(eventType string) string {
	switch eventType {
	case "queue.joined":
		return "queue_joined"
	case "queue.provisioned":
		return "queue_provisioned"
	case "queue.provision_failed":
		return "queue_provision_failed"
	case "queue.cancelled":
		return "queue_cancelled"
	case "appointment.cancelled":
		return "appointment_cancelled"
	case "appointment.rescheduled":
		return "appointment_rescheduled"
	default:
		return ""
	}
}

func defaultTemplate(templateID string) string {
	switch templateID {
	case "queue_joined":
		return "The queue for your appointment has been created. Your queue number is {queue_number}."
	case "queue_provisioned":
		return "Queue successfully created for Dr. {doctor_name} on {date} at {time}."
	case "queue_provision_failed":
		return "Queue creation failed. Please try again or manually create the queue if the issue persists."
	case "queue_cancelled":
		return "All appointments for Dr. {doctor_name} on {date} have been cancelled."
	case "appointment_cancelled":
		return "Your appointment with Dr. {doctor_name} on {date} has been cancelled. Please contact the clinic to rebook."
	case "appointment_rescheduled":
		return "Your appointment with Dr. {doctor_name} has been rescheduled to {date} at {time}. Please contact us for more details."
	}
	return ""
}

// renderTemplate substitutes a fixed set of named placeholders. Template
// bodies are data, never code.
func renderTemplate(template string, payload payloadData) string {
	result := template
	result = strings.ReplaceAll(result, "{queue_number}", str(payload, "queue_number"))
	result = strings.ReplaceAll(result, "{doctor_name}", str(payload, "doctor_name"))
	result = strings.ReplaceAll(result, "{patient_name}", str(payload, "patient_name"))
	result = strings.ReplaceAll(result, "{date}", str(payload, "date"))
	result = strings.ReplaceAll(result, "{time}", str(payload, "time"))
	return result
}

func str(payload payloadData, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	if number, ok := value.(float64); ok {
		return fmt.Sprintf("%.0f", number)
	}
	return fmt.Sprint(value)
}

type channelTarget struct {
	name      string
	recipient string
}

func pickChannels(eventType string, payload payloadData) []channelTarget {
	var channels []channelTarget
	switch eventType {
	case "queue.provisioned", "queue.provision_failed", "queue.cancelled":
		channels = append(channels, channelTarget{name: "staff", recipient: staffRecipient})
	default:
		if phone, ok := payload["phone"].(string); ok && ValidPhilippinePhone(phone) {
			channels = append(channels, channelTarget{name: "sms", recipient: phone})
		}
	}
	return channels
}

// ValidPhilippinePhone accepts +639XXXXXXXXX, 09XXXXXXXXX and 9XXXXXXXXX.
func ValidPhilippinePhone(phone string) bool {
	trimmed := strings.TrimSpace(phone)
	switch {
	case strings.HasPrefix(trimmed, "+639"):
		trimmed = trimmed[4:]
	case strings.HasPrefix(trimmed, "09"):
		trimmed = trimmed[2:]
	case strings.HasPrefix(trimmed, "9"):
		trimmed = trimmed[1:]
	default:
		return false
	}
	if len(trimmed) != 9 {
		return false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func Start(ctx context.Context, interval time.Duration, w *Worker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				log.Printf("notif worker error: %v", err)
			}
		}
	}
}
