// Package seed fills a directory with fake doctors and patients.
package seed

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/booking"
)

var (
	workdays   = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
	startTimes = []string{"08:00", "09:00", "10:30", "13:00", "14:30", "16:00", "17:30"}
)

type Options struct {
	Doctors     int
	Patients    int
	MaxCapacity int // upper bound of a generated slot's capacity
}

type Result struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID
}

type Seeder struct {
	w     booking.DirectoryWriter
	faker *gofakeit.Faker
	log   *zap.Logger
}

// New seeds through w. A nil faker uses a randomly seeded one.
func New(w booking.DirectoryWriter, faker *gofakeit.Faker, log *zap.Logger) *Seeder {
	if faker == nil {
		faker = gofakeit.New(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Seeder{w: w, faker: faker, log: log}
}

// Schedule generates a weekly template of two to four days with one to three
// distinct start times per day.
func (s *Seeder) Schedule(maxCapacity int) []booking.ScheduleSlot {
	if maxCapacity < 1 {
		maxCapacity = 1
	}

	days := slices.Clone(workdays)
	s.faker.ShuffleAnySlice(days)
	days = days[:s.faker.Number(2, 4)]

	var schedule []booking.ScheduleSlot
	for _, day := range days {
		times := slices.Clone(startTimes)
		s.faker.ShuffleAnySlice(times)
		for _, st := range times[:s.faker.Number(1, 3)] {
			schedule = append(schedule, booking.ScheduleSlot{
				DayOfWeek:   day,
				StartTime:   st,
				MaxCapacity: s.faker.Number(1, maxCapacity),
			})
		}
	}
	return schedule
}

func (s *Seeder) Doctor(ctx context.Context, schedule []booking.ScheduleSlot) (*booking.Doctor, error) {
	d := &booking.Doctor{
		ID:       uuid.New(),
		Name:     "Dr. " + s.faker.FirstName() + " " + s.faker.LastName(),
		Schedule: schedule,
	}
	if err := s.w.SaveDoctor(ctx, d); err != nil {
		return nil, fmt.Errorf("save doctor %s: %w", d.Name, err)
	}
	return d, nil
}

func (s *Seeder) Patient(ctx context.Context) (*booking.Patient, error) {
	p := &booking.Patient{
		ID:    uuid.New(),
		Name:  s.faker.Name(),
		Phone: s.faker.Phone(),
	}
	if err := s.w.SavePatient(ctx, p); err != nil {
		return nil, fmt.Errorf("save patient %s: %w", p.Name, err)
	}
	return p, nil
}

func (s *Seeder) Run(ctx context.Context, opts Options) (Result, error) {
	var res Result

	s.log.Info("seeding doctors", zap.Int("count", opts.Doctors))
	for i := 0; i < opts.Doctors; i++ {
		d, err := s.Doctor(ctx, s.Schedule(opts.MaxCapacity))
		if err != nil {
			return res, err
		}
		res.Doctors = append(res.Doctors, d.ID)
	}

	const progressEvery = 500
	s.log.Info("seeding patients", zap.Int("count", opts.Patients))
	for i := 0; i < opts.Patients; i++ {
		p, err := s.Patient(ctx)
		if err != nil {
			return res, err
		}
		res.Patients = append(res.Patients, p.ID)
		if (i+1)%progressEvery == 0 {
			s.log.Info("patients seeded", zap.Int("done", i+1), zap.Int("total", opts.Patients))
		}
	}

	return res, nil
}
