// Package tools holds the application tools the voice agent can call.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

// Tool names.
const (
	CaptureLead         = "capture_lead"
	ScheduleAppointment = "schedule_appointment"
)

// ack is the acknowledgement the model receives for recorded requests.
const ack = "OK"

// Lead is a contact captured during a conversation.
type Lead struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Appointment is a requested meeting slot.
type Appointment struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	RequestedAt time.Time `json:"requested_at"`
}

// LeadBook records leads and appointments in memory.
type LeadBook struct {
	mu           sync.Mutex
	leads        []Lead
	appointments []Appointment
	logger       *slog.Logger
	now          func() time.Time
}

// NewLeadBook returns an empty book. A nil logger uses slog.Default.
func NewLeadBook(logger *slog.Logger) *LeadBook {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeadBook{logger: logger, now: time.Now}
}

// Register adds capture_lead and schedule_appointment to r.
func (b *LeadBook) Register(r *live.ToolCallRouter) error {
	if err := r.Register(captureLeadDecl, b.captureLead); err != nil {
		return err
	}
	return r.Register(scheduleAppointmentDecl, b.scheduleAppointment)
}

// Leads returns a copy of the captured leads.
func (b *LeadBook) Leads() []Lead {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Lead(nil), b.leads...)
}

// Appointments returns a copy of the requested appointments.
func (b *LeadBook) Appointments() []Appointment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Appointment(nil), b.appointments...)
}

func (b *LeadBook) captureLead(_ context.Context, args map[string]any) (string, error) {
	name, email := stringArg(args, "name"), stringArg(args, "email")
	if err := requireArgs(map[string]string{"name": name, "email": email}); err != nil {
		return "", err
	}
	lead := Lead{
		ID:         uuid.NewString(),
		Name:       name,
		Email:      email,
		Phone:      stringArg(args, "phone"),
		CapturedAt: b.now(),
	}
	b.mu.Lock()
	b.leads = append(b.leads, lead)
	b.mu.Unlock()
	b.logger.Info("lead captured", "lead_id", lead.ID, "has_phone", lead.Phone != "")
	return ack, nil
}

func (b *LeadBook) scheduleAppointment(_ context.Context, args map[string]any) (string, error) {
	appt := Appointment{
		Name:  stringArg(args, "name"),
		Email: stringArg(args, "email"),
		Date:  stringArg(args, "date"),
		Time:  stringArg(args, "time"),
	}
	if err := requireArgs(map[string]string{"name": appt.Name, "email": appt.Email, "date": appt.Date, "time": appt.Time}); err != nil {
		return "", err
	}
	appt.ID = uuid.NewString()
	appt.RequestedAt = b.now()
	b.mu.Lock()
	b.appointments = append(b.appointments, appt)
	b.mu.Unlock()
	b.logger.Info("appointment requested", "appointment_id", appt.ID, "date", appt.Date, "time", appt.Time)
	return ack, nil
}

var captureLeadDecl = live.ToolDeclaration{
	Name:        CaptureLead,
	Description: "Captures lead information from the user.",
	Parameters: []live.ToolParameter{
		{Name: "name", Type: "string", Description: "The full name of the user.", Required: true},
		{Name: "email", Type: "string", Description: "The email address of the user.", Required: true},
		{Name: "phone", Type: "string", Description: "The phone number of the user. (Optional)"},
	},
}

var scheduleAppointmentDecl = live.ToolDeclaration{
	Name:        ScheduleAppointment,
	Description: "Schedules an appointment for the user.",
	Parameters: []live.ToolParameter{
		{Name: "name", Type: "string", Description: "The full name of the user.", Required: true},
		{Name: "email", Type: "string", Description: "The email address of the user.", Required: true},
		{Name: "date", Type: "string", Description: `The preferred date for the appointment (e.g., "this Friday", "2024-08-15").`, Required: true},
		{Name: "time", Type: "string", Description: `The preferred time for the appointment (e.g., "2pm", "14:00").`, Required: true},
	},
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func requireArgs(fields map[string]string) error {
	var missing []string
	for _, key := range []string{"name", "email", "date", "time", "description"} {
		if v, ok := fields[key]; ok && v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required argument(s): %s", strings.Join(missing, ", "))
	}
	return nil
}
