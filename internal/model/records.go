package model

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
)

// Tables watched on the change source
const (
	TableAppointments    = "appointments"
	TableBillings        = "billings"
	TablePatients        = "patients"
	TableOperatoryStatus = "operatory_status"
)

// WatchedTables lists every table the realtime aggregator subscribes to.
var WatchedTables = []string{TableAppointments, TableBillings, TablePatients, TableOperatoryStatus}

// EventType is the kind of row change.
type EventType string

// Row change kinds
const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Change is one row-level change delivered by the change source.
// New is empty for DELETE, Old is empty for INSERT.
type Change struct {
	Table     string          `json:"table"`
	EventType EventType       `json:"eventType"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// DecodeNew unmarshals the new row image into v.
func (c Change) DecodeNew(v any) error {
	if len(c.New) == 0 {
		return nil
	}
	return json.Unmarshal(c.New, v)
}

// DecodeOld unmarshals the old row image into v.
func (c Change) DecodeOld(v any) error {
	if len(c.Old) == 0 {
		return nil
	}
	return json.Unmarshal(c.Old, v)
}

// ChangeHandler processes a change. Returning an error asks the source to redeliver.
type ChangeHandler func(ctx context.Context, change Change) error

// Appointment statuses
const (
	AppointmentScheduled  = "scheduled"
	AppointmentInProgress = "in_progress"
	AppointmentCompleted  = "completed"
	AppointmentNoShow     = "no_show"
	AppointmentCancelled  = "cancelled"
)

// Treatment is a priced procedure attached to an appointment.
type Treatment struct {
	ID    string  `json:"id"`
	Code  string  `json:"code,omitempty"`
	Price float64 `json:"price"`
}

// Appointment is an appointments row.
type Appointment struct {
	ID              string      `json:"id"`
	PatientID       string      `json:"patient_id,omitempty"`
	ProviderID      string      `json:"provider_id,omitempty"`
	Status          string      `json:"status"`
	ScheduledTime   time.Time   `json:"scheduled_time"`
	ActualStartTime *time.Time  `json:"actual_start_time,omitempty"`
	Treatments      []Treatment `json:"treatments,omitempty"`
}

// Production sums the treatment prices carried on the row.
func (a Appointment) Production() float64 {
	total := 0.0
	for _, t := range a.Treatments {
		total += t.Price
	}
	return total
}

// Billing is a billings row.
type Billing struct {
	ID          string  `json:"id"`
	PatientID   string  `json:"patient_id,omitempty"`
	TotalAmount float64 `json:"total_amount"`
	AmountPaid  float64 `json:"amount_paid"`
	Status      string  `json:"status,omitempty"`
}

// Patient statuses
const (
	PatientActive   = "active"
	PatientInactive = "inactive"
)

// Patient is a patients row.
type Patient struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// OperatoryStatus is an operatory_status row.
type OperatoryStatus struct {
	ID          string `json:"id"`
	OperatoryID string `json:"operatory_id,omitempty"`
	Status      string `json:"status"`
}
