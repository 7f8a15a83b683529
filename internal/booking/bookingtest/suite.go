// Package bookingtest holds the behaviour every booking store has to show,
// written once and run against each backend.
package bookingtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/clock"
)

// Backend is everything one store implementation provides.
type Backend interface {
	booking.Store
	booking.Directory
	booking.DirectoryWriter
	booking.Searcher
	booking.SlotStateLister
}

// Today is the fixed "now" of every suite run, a Friday.
var Today = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

// NextWeekday returns the first date strictly after from that falls on wd.
func NextWeekday(from time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(from.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return booking.DateOf(from).AddDate(0, 0, days)
}

// NewDoctor saves a doctor with a unique name and the given schedule.
func NewDoctor(t testing.TB, w booking.DirectoryWriter, schedule ...booking.ScheduleSlot) *booking.Doctor {
	t.Helper()
	d := &booking.Doctor{
		ID:       uuid.New(),
		Name:     "Dr. " + gofakeit.LastName() + " " + uuid.NewString()[:8],
		Schedule: schedule,
	}
	require.NoError(t, w.SaveDoctor(context.Background(), d))
	return d
}

func NewPatient(t testing.TB, w booking.DirectoryWriter) *booking.Patient {
	t.Helper()
	return NewNamedPatient(t, w, gofakeit.Name(), gofakeit.Phone())
}

func NewNamedPatient(t testing.TB, w booking.DirectoryWriter, name, phone string) *booking.Patient {
	t.Helper()
	p := &booking.Patient{ID: uuid.New(), Name: name, Phone: phone}
	require.NoError(t, w.SavePatient(context.Background(), p))
	return p
}

func monday(startTime string, capacity int) booking.ScheduleSlot {
	return booking.ScheduleSlot{DayOfWeek: time.Monday, StartTime: startTime, MaxCapacity: capacity}
}

// RunStoreSuite runs every booking property against the backend returned by
// newBackend. Subtests share the backend; isolation comes from fresh doctor
// and patient ids.
func RunStoreSuite(t *testing.T, newBackend func(t *testing.T) Backend) {
	b := newBackend(t)
	clk := clock.NewFixed(Today)
	svc := booking.NewService(b, b, clk, zap.NewNop())
	ctx := context.Background()
	nextMonday := NextWeekday(Today, time.Monday)

	request := func(d *booking.Doctor, p *booking.Patient, startTime string) booking.BookingRequest {
		return booking.BookingRequest{
			DoctorID:  d.ID,
			Date:      nextMonday,
			StartTime: startTime,
			PatientID: p.ID,
			Reason:    gofakeit.Sentence(4),
		}
	}
	counterOf := func(t *testing.T, d *booking.Doctor, startTime string) int {
		c, _, err := b.ReadCounter(ctx, booking.NewSlotKey(d.ID, nextMonday, startTime))
		require.NoError(t, err)
		return c.Count
	}

	t.Run("sequential bookings fill the slot in order", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 5))
		key := booking.NewSlotKey(d.ID, nextMonday, "16:00")

		for i := 1; i <= 5; i++ {
			accepting, err := svc.Availability(ctx, key)
			require.NoError(t, err)
			assert.True(t, accepting, "slot must accept booking %d", i)

			p := NewPatient(t, b)
			got, err := svc.Create(ctx, request(d, p, "16:00"))
			require.NoError(t, err)
			assert.Equal(t, i, got.SeqNumber)
			assert.Equal(t, d.Name, got.Doctor.Name)
			assert.Equal(t, p.Phone, got.Patient.Phone)
			assert.Equal(t, Today, got.RegisteredAt)
			assert.False(t, got.Canceled)
		}

		accepting, err := svc.Availability(ctx, key)
		require.NoError(t, err)
		assert.False(t, accepting)

		status, err := svc.SlotStatus(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 5, status.Booked)
		assert.Equal(t, 5, status.MaxCapacity)
		assert.False(t, status.AcceptingBookings)
	})

	t.Run("booking past capacity fails and leaves the counter alone", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 2))
		for i := 0; i < 2; i++ {
			_, err := svc.Create(ctx, request(d, NewPatient(t, b), "16:00"))
			require.NoError(t, err)
		}

		_, err := svc.Create(ctx, request(d, NewPatient(t, b), "16:00"))
		require.ErrorIs(t, err, booking.ErrSlotFull)
		assert.Contains(t, err.Error(), "Doctor can't accept appointment")
		assert.Equal(t, 2, counterOf(t, d, "16:00"))
	})

	t.Run("capacity one flips on the first booking", func(t *testing.T) {
		d := NewDoctor(t, b, monday("08:00", 1))
		key := booking.NewSlotKey(d.ID, nextMonday, "08:00")

		got, err := svc.Create(ctx, request(d, NewPatient(t, b), "8:00"))
		require.NoError(t, err)
		assert.Equal(t, 1, got.SeqNumber)
		assert.Equal(t, "08:00", got.Key.StartTime)

		accepting, err := svc.Availability(ctx, key)
		require.NoError(t, err)
		assert.False(t, accepting)
	})

	t.Run("repeating a booking is a duplicate", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 5))
		p := NewPatient(t, b)

		_, err := svc.Create(ctx, request(d, p, "16:00"))
		require.NoError(t, err)

		_, err = svc.Create(ctx, request(d, p, "16:00"))
		require.ErrorIs(t, err, booking.ErrDuplicateBooking)
		assert.Contains(t, err.Error(), "already taken appointment")
		assert.Equal(t, 1, counterOf(t, d, "16:00"))
	})

	t.Run("duplicate wins over a full slot", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 1))
		p := NewPatient(t, b)

		_, err := svc.Create(ctx, request(d, p, "16:00"))
		require.NoError(t, err)

		_, err = svc.Create(ctx, request(d, p, "16:00"))
		assert.ErrorIs(t, err, booking.ErrDuplicateBooking)
	})

	t.Run("no schedule entry for the requested time", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 5))

		_, err := svc.Create(ctx, request(d, NewPatient(t, b), "09:00"))
		require.ErrorIs(t, err, booking.ErrNoScheduleForSlot)

		_, found, err := b.ReadCounter(ctx, booking.NewSlotKey(d.ID, nextMonday, "09:00"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("no schedule entry for the requested weekday", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 5))
		req := request(d, NewPatient(t, b), "16:00")
		req.Date = NextWeekday(Today, time.Tuesday)

		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, booking.ErrNoScheduleForSlot)
	})

	t.Run("date in the past is rejected before the store", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 5), booking.ScheduleSlot{DayOfWeek: time.Thursday, StartTime: "16:00", MaxCapacity: 5})
		req := request(d, NewPatient(t, b), "16:00")
		req.Date = Today.AddDate(0, 0, -1)

		_, err := svc.Create(ctx, req)
		require.ErrorIs(t, err, booking.ErrInvalidRequest)

		_, found, err := b.ReadCounter(ctx, booking.NewSlotKey(d.ID, req.Date, "16:00"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("unknown doctor and patient", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 5))
		p := NewPatient(t, b)

		req := request(d, p, "16:00")
		req.DoctorID = uuid.New()
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, booking.ErrDoctorNotFound)

		req = request(d, p, "16:00")
		req.PatientID = uuid.New()
		_, err = svc.Create(ctx, req)
		assert.ErrorIs(t, err, booking.ErrPatientNotFound)

		_, found, err := b.ReadCounter(ctx, booking.NewSlotKey(d.ID, nextMonday, "16:00"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("aborted transaction discards the reservation", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 5))
		_, err := svc.Create(ctx, request(d, NewPatient(t, b), "16:00"))
		require.NoError(t, err)

		key := booking.NewSlotKey(d.ID, nextMonday, "16:00")
		boom := booking.StoreFailure("insert appointment", assert.AnError)
		err = b.WithinTx(ctx, func(ctx context.Context, tx booking.Tx) error {
			if _, err := tx.EnsureAvailability(ctx, key); err != nil {
				return err
			}
			n, err := booking.SequenceAllocator{}.ReserveNext(ctx, tx, key)
			if err != nil {
				return err
			}
			assert.Equal(t, 2, n)
			if err := tx.SetAvailability(ctx, key, false); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, booking.ErrStoreFailure)

		assert.Equal(t, 1, counterOf(t, d, "16:00"))
		accepting, err := svc.Availability(ctx, key)
		require.NoError(t, err)
		assert.True(t, accepting)
	})

	t.Run("concurrent bookings never exceed capacity", func(t *testing.T) {
		const capacity, callers = 5, 12
		d := NewDoctor(t, b, monday("16:00", capacity))
		patients := make([]*booking.Patient, callers)
		for i := range patients {
			patients[i] = NewPatient(t, b)
		}

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			seqs  []int
			fails []error
			start = make(chan struct{})
		)
		for _, p := range patients {
			wg.Add(1)
			go func(p *booking.Patient) {
				defer wg.Done()
				<-start
				got, err := svc.Create(ctx, request(d, p, "16:00"))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					fails = append(fails, err)
					return
				}
				seqs = append(seqs, got.SeqNumber)
			}(p)
		}
		close(start)
		wg.Wait()

		sort.Ints(seqs)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, seqs)
		require.Len(t, fails, callers-capacity)
		for _, err := range fails {
			assert.True(t,
				booking.KindOf(err) == booking.ErrSlotFull || booking.KindOf(err) == booking.ErrTransactionConflict,
				"unexpected failure %v", err)
		}

		accepting, err := svc.Availability(ctx, booking.NewSlotKey(d.ID, nextMonday, "16:00"))
		require.NoError(t, err)
		assert.False(t, accepting)
		assert.Equal(t, capacity, counterOf(t, d, "16:00"))
	})

	t.Run("concurrent repeats by one patient book once", func(t *testing.T) {
		const callers = 8
		d := NewDoctor(t, b, monday("16:00", 5))
		p := NewPatient(t, b)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			start     = make(chan struct{})
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := svc.Create(ctx, request(d, p, "16:00"))
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
					return
				}
				assert.True(t,
					booking.KindOf(err) == booking.ErrDuplicateBooking || booking.KindOf(err) == booking.ErrTransactionConflict,
					"unexpected failure %v", err)
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, counterOf(t, d, "16:00"))
	})

	t.Run("different slots do not interfere", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 3), monday("17:00", 3))

		var wg sync.WaitGroup
		errs := make(chan error, 6)
		for _, st := range []string{"16:00", "17:00"} {
			for i := 0; i < 3; i++ {
				p := NewPatient(t, b)
				wg.Add(1)
				go func(st string) {
					defer wg.Done()
					_, err := svc.Create(ctx, request(d, p, st))
					errs <- err
				}(st)
			}
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, 3, counterOf(t, d, "16:00"))
		assert.Equal(t, 3, counterOf(t, d, "17:00"))
	})

	t.Run("search filters", func(t *testing.T) {
		d := NewDoctor(t, b, monday("16:00", 5), monday("17:00", 5))
		other := NewDoctor(t, b, monday("16:00", 5))
		search := booking.NewSearch(b, zap.NewNop())
		token := d.Name[len(d.Name)-8:]

		alice := NewNamedPatient(t, b, "Alice "+token, "555-0100")
		alina := NewNamedPatient(t, b, "alina "+token, "555-0199")
		percent := NewNamedPatient(t, b, "50% Off "+token, "777-0000")
		club := NewNamedPatient(t, b, "500 Club "+token, "777-0001")

		later := nextMonday.AddDate(0, 0, 7)
		book := func(doc *booking.Doctor, p *booking.Patient, date time.Time, st string) {
			req := request(doc, p, st)
			req.Date = date
			_, err := svc.Create(ctx, req)
			require.NoError(t, err)
		}
		book(d, alice, nextMonday, "16:00")
		book(d, alina, nextMonday, "17:00")
		book(d, percent, later, "16:00")
		book(d, club, later, "16:00")
		book(other, alice, nextMonday, "16:00")

		find := func(f booking.SearchFilter) []booking.AppointmentSummary {
			t.Helper()
			if f.DoctorName == "" {
				f.DoctorName = strings.ToUpper(d.Name)
			}
			got, err := search.Find(ctx, f)
			require.NoError(t, err)
			return got
		}
		names := func(rows []booking.AppointmentSummary) []string {
			out := make([]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, strings.Fields(r.PatientName)[0])
			}
			sort.Strings(out)
			return out
		}

		assert.Len(t, find(booking.SearchFilter{}), 4)
		assert.Equal(t, []string{"Alice", "alina"}, names(find(booking.SearchFilter{PatientName: "ali"})))
		assert.Equal(t, []string{"alina"}, names(find(booking.SearchFilter{PatientPhone: "555-019"})))
		assert.Equal(t, []string{"alina"}, names(find(booking.SearchFilter{StartTime: "17:00"})))
		assert.Equal(t, []string{"50%"}, names(find(booking.SearchFilter{PatientName: "50%"})))

		from, to := later, later
		assert.Equal(t, []string{"50%", "500"}, names(find(booking.SearchFilter{From: &from, To: &to})))
		to = nextMonday
		assert.Equal(t, []string{"Alice", "alina"}, names(find(booking.SearchFilter{To: &to})))

		canceled := true
		assert.Empty(t, find(booking.SearchFilter{Canceled: &canceled}))
		canceled = false
		assert.Len(t, find(booking.SearchFilter{Canceled: &canceled}), 4)

		rows := find(booking.SearchFilter{PatientName: "alice"})
		require.Len(t, rows, 1)
		assert.Equal(t, d.ID, rows[0].DoctorID)
		assert.Equal(t, d.Name, rows[0].DoctorName)
		assert.Equal(t, alice.ID, rows[0].PatientID)
		assert.Equal(t, "555-0100", rows[0].PatientPhone)
		assert.Equal(t, nextMonday, rows[0].Date)
		assert.Equal(t, "16:00", rows[0].StartTime)
		assert.Equal(t, 1, rows[0].SeqNumber)
		assert.True(t, Today.Equal(rows[0].RegisteredAt))
	})

	t.Run("committed state passes the audit", func(t *testing.T) {
		auditor := booking.NewAuditor(b, b, zap.NewNop(), nil)
		violations, err := auditor.Run(ctx)
		require.NoError(t, err)
		assert.Empty(t, violations)
	})
}
