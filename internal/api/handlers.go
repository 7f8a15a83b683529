package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/booking"
)

//go:generate mockgen -source=handlers.go -destination=mocks/handlers_mock.go -package=mocks

type BookingService interface {
	Create(ctx context.Context, req booking.BookingRequest) (*booking.AppointmentDetail, error)
	SlotStatus(ctx context.Context, key booking.SlotKey) (*booking.SlotStatus, error)
}

type AppointmentFinder interface {
	Find(ctx context.Context, f booking.SearchFilter) ([]booking.AppointmentSummary, error)
}

// createAppointmentHandler books through the engine. Conflicts are retried
// here, never inside the engine.
func createAppointmentHandler(svc BookingService, retry booking.RetryPolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		// Blank ids and dates are passed through so the engine reports them
		// with its own messages.
		doctorID, ok := parseOptionalUUID(req.DoctorID)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		patientID, ok := parseOptionalUUID(req.PatientID)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		var date time.Time
		if req.Date != "" {
			d, err := booking.ParseDate(req.Date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			date = d
		}

		breq := booking.BookingRequest{
			DoctorID:  doctorID,
			Date:      date,
			StartTime: req.StartTime,
			PatientID: patientID,
			Reason:    req.Reason,
		}

		var detail *booking.AppointmentDetail
		err := retry.Run(r.Context(), func(ctx context.Context) error {
			var err error
			detail, err = svc.Create(ctx, breq)
			return err
		})
		if err != nil {
			writeBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, AppointmentResponse{
			DoctorID:     detail.Doctor.ID,
			DoctorName:   detail.Doctor.Name,
			PatientID:    detail.Patient.ID,
			PatientName:  detail.Patient.Name,
			PatientPhone: detail.Patient.Phone,
			Date:         detail.Key.Date.Format(booking.DateLayout),
			StartTime:    detail.Key.StartTime,
			SeqNumber:    detail.SeqNumber,
			Reason:       detail.Reason,
			RegisteredAt: detail.RegisteredAt,
			Canceled:     detail.Canceled,
		})
	}
}

func listAppointmentsHandler(search AppointmentFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := booking.SearchFilter{
			DoctorName:   q.Get("doctor_name"),
			PatientName:  q.Get("patient_name"),
			PatientPhone: q.Get("patient_phone"),
			StartTime:    q.Get("start_time"),
		}

		for param, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
			raw := q.Get(param)
			if raw == "" {
				continue
			}
			d, err := booking.ParseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", param+" must be YYYY-MM-DD")
				return
			}
			*dst = &d
		}
		if raw := q.Get("canceled"); raw != "" {
			canceled, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_canceled", "canceled must be true or false")
				return
			}
			f.Canceled = &canceled
		}

		found, err := search.Find(r.Context(), f)
		if err != nil {
			writeBookingError(w, err)
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentResponse, 0, len(found)),
			Count:        len(found),
		}
		for _, s := range found {
			resp.Appointments = append(resp.Appointments, AppointmentResponse{
				DoctorID:     s.DoctorID,
				DoctorName:   s.DoctorName,
				PatientID:    s.PatientID,
				PatientName:  s.PatientName,
				PatientPhone: s.PatientPhone,
				Date:         s.Date.Format(booking.DateLayout),
				StartTime:    s.StartTime,
				SeqNumber:    s.SeqNumber,
				RegisteredAt: s.RegisteredAt,
				Canceled:     s.Canceled,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func slotStatusHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}
		date, err := booking.ParseDate(chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		startTime, err := url.PathUnescape(chi.URLParam(r, "startTime"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start time is not a valid path segment")
			return
		}

		status, err := svc.SlotStatus(r.Context(), booking.NewSlotKey(doctorID, date, startTime))
		if err != nil {
			writeBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotStatusResponse{
			DoctorID:          status.Key.DoctorID,
			Date:              status.Key.Date.Format(booking.DateLayout),
			StartTime:         status.Key.StartTime,
			MaxCapacity:       status.MaxCapacity,
			Booked:            status.Booked,
			Remaining:         max(status.MaxCapacity-status.Booked, 0),
			AcceptingBookings: status.AcceptingBookings,
		})
	}
}

func parseOptionalUUID(raw string) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}
