package redisclient

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/booking"
)

const (
	keyPrefix    = "booking:"
	apptIndexKey = keyPrefix + "appts"
	slotIndexKey = keyPrefix + "slots"
)

func doctorKey(id uuid.UUID) string  { return keyPrefix + "doctor:" + id.String() }
func patientKey(id uuid.UUID) string { return keyPrefix + "patient:" + id.String() }

func appointmentKey(k booking.AppointmentKey) string { return keyPrefix + "appt:" + k.String() }
func availabilityKey(k booking.SlotKey) string       { return keyPrefix + "avail:" + k.String() }
func counterKey(k booking.SlotKey) string            { return keyPrefix + "seq:" + k.String() }

type scheduleRecord struct {
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	MaxPatients int    `json:"max_patients"`
}

type doctorRecord struct {
	ID       uuid.UUID        `json:"id"`
	Name     string           `json:"name"`
	Schedule []scheduleRecord `json:"schedule"`
}

func newDoctorRecord(d *booking.Doctor) doctorRecord {
	rec := doctorRecord{ID: d.ID, Name: d.Name}
	for _, s := range d.Schedule {
		rec.Schedule = append(rec.Schedule, scheduleRecord{
			DayOfWeek:   int(s.DayOfWeek),
			StartTime:   s.StartTime,
			MaxPatients: s.MaxCapacity,
		})
	}
	return rec
}

func (r doctorRecord) toDomain() *booking.Doctor {
	d := &booking.Doctor{ID: r.ID, Name: r.Name}
	for _, s := range r.Schedule {
		d.Schedule = append(d.Schedule, booking.ScheduleSlot{
			DayOfWeek:   time.Weekday(s.DayOfWeek),
			StartTime:   s.StartTime,
			MaxCapacity: s.MaxPatients,
		})
	}
	return d
}

type patientRecord struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Phone string    `json:"phone"`
}

type appointmentRecord struct {
	DoctorID     uuid.UUID `json:"doctor_id"`
	Date         string    `json:"appointment_date"`
	StartTime    string    `json:"start_time"`
	PatientID    uuid.UUID `json:"patient_id"`
	SeqNumber    int       `json:"seq_number"`
	Reason       string    `json:"reason"`
	RegisteredAt time.Time `json:"regist_at"`
	Canceled     bool      `json:"canceled"`
}

func newAppointmentRecord(a *booking.Appointment) appointmentRecord {
	return appointmentRecord{
		DoctorID:     a.Key.DoctorID,
		Date:         a.Key.Date.Format(booking.DateLayout),
		StartTime:    a.Key.StartTime,
		PatientID:    a.Key.PatientID,
		SeqNumber:    a.SeqNumber,
		Reason:       a.Reason,
		RegisteredAt: a.RegisteredAt,
		Canceled:     a.Canceled,
	}
}

func (r appointmentRecord) toDomain() (*booking.Appointment, error) {
	date, err := booking.ParseDate(r.Date)
	if err != nil {
		return nil, err
	}
	return &booking.Appointment{
		Key: booking.AppointmentKey{
			SlotKey:   booking.NewSlotKey(r.DoctorID, date, r.StartTime),
			PatientID: r.PatientID,
		},
		SeqNumber:    r.SeqNumber,
		Reason:       r.Reason,
		RegisteredAt: r.RegisteredAt,
		Canceled:     r.Canceled,
	}, nil
}
