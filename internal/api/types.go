package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"` // YYYY-MM-DD
	StartTime string `json:"start_time"`
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason"`
}

type AppointmentResponse struct {
	DoctorID     uuid.UUID `json:"doctor_id"`
	DoctorName   string    `json:"doctor_name"`
	PatientID    uuid.UUID `json:"patient_id"`
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone,omitempty"`
	Date         string    `json:"date"`
	StartTime    string    `json:"start_time"`
	SeqNumber    int       `json:"seq_number"`
	Reason       string    `json:"reason,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	Canceled     bool      `json:"canceled"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Count        int                   `json:"count"`
}

type SlotStatusResponse struct {
	DoctorID          uuid.UUID `json:"doctor_id"`
	Date              string    `json:"date"`
	StartTime         string    `json:"start_time"`
	MaxCapacity       int       `json:"max_capacity"`
	Booked            int       `json:"booked"`
	Remaining         int       `json:"remaining"`
	AcceptingBookings bool      `json:"accepting_bookings"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
