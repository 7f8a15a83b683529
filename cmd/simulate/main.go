package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/slot-booking/internal/api"
	"github.com/hackgods/slot-booking/internal/backend"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/logger"
	"github.com/hackgods/slot-booking/internal/seed"
)

type SimConfig struct {
	APIBaseURL string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	Callers    int           `envconfig:"CALLERS" default:"50"`
	Capacity   int           `envconfig:"CAPACITY" default:"10"`
	StartTime  string        `envconfig:"START_TIME" default:"10:00"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

// outcome is what one caller saw.
type outcome struct {
	status  int
	code    string
	seq     int
	latency time.Duration
	err     error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	var sim SimConfig
	if err := envconfig.Process("sim", &sim); err != nil {
		log.Fatal("simulator config", zap.Error(err))
	}
	if sim.Callers <= 0 || sim.Capacity <= 0 {
		log.Fatal("SIM_CALLERS and SIM_CAPACITY must be > 0")
	}

	ok, err := run(cfg, sim, log)
	if err != nil {
		log.Fatal("simulation failed", zap.Error(err))
	}
	if !ok {
		os.Exit(1)
	}
}

func run(cfg config.Config, sim SimConfig, log *zap.Logger) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sim.Timeout)
	defer cancel()

	be, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return false, err
	}
	defer be.Close()
	if !be.Shared() {
		return false, fmt.Errorf("the api server cannot see a %s backend opened here", be.Name)
	}

	loc, err := cfg.Location()
	if err != nil {
		return false, err
	}
	date := booking.DateOf(time.Now().In(loc)).AddDate(0, 0, 1)

	// One fresh doctor with a single slot tomorrow and one patient per caller.
	seeder := seed.New(be.Store, nil, log)
	doctor, err := seeder.Doctor(ctx, []booking.ScheduleSlot{
		{DayOfWeek: date.Weekday(), StartTime: sim.StartTime, MaxCapacity: sim.Capacity},
	})
	if err != nil {
		return false, err
	}
	patients := make([]string, sim.Callers)
	for i := range patients {
		p, err := seeder.Patient(ctx)
		if err != nil {
			return false, err
		}
		patients[i] = p.ID.String()
	}

	log.Info("starting contention run",
		zap.String("doctor", doctor.ID.String()),
		zap.String("date", date.Format(booking.DateLayout)),
		zap.String("start_time", sim.StartTime),
		zap.Int("callers", sim.Callers),
		zap.Int("capacity", sim.Capacity))

	client := &http.Client{Timeout: 10 * time.Second}
	results := make([]outcome, sim.Callers)
	startGun := make(chan struct{})

	var g errgroup.Group
	for i := range patients {
		g.Go(func() error {
			<-startGun
			results[i] = book(ctx, client, sim.APIBaseURL, api.CreateAppointmentRequest{
				DoctorID:  doctor.ID.String(),
				Date:      date.Format(booking.DateLayout),
				StartTime: sim.StartTime,
				PatientID: patients[i],
				Reason:    "contention run",
			})
			return nil
		})
	}
	close(startGun)
	_ = g.Wait()

	status, err := fetchSlot(ctx, client, sim.APIBaseURL, doctor.ID.String(), date.Format(booking.DateLayout), sim.StartTime)
	if err != nil {
		return false, err
	}

	r := evaluate(results, sim.Capacity, status)
	r.Print()
	return len(r.Violations) == 0, nil
}

func book(ctx context.Context, client *http.Client, baseURL string, body api.CreateAppointmentRequest) outcome {
	raw, err := json.Marshal(body)
	if err != nil {
		return outcome{err: err}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/appointments", bytes.NewReader(raw))
	if err != nil {
		return outcome{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return outcome{err: err, latency: time.Since(start)}
	}
	defer resp.Body.Close()

	o := outcome{status: resp.StatusCode, latency: time.Since(start)}
	if resp.StatusCode == http.StatusCreated {
		var appt api.AppointmentResponse
		if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
			o.err = fmt.Errorf("decode appointment: %w", err)
		}
		o.seq = appt.SeqNumber
		return o
	}

	var apiErr api.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	o.code = apiErr.Error
	return o
}

func fetchSlot(ctx context.Context, client *http.Client, baseURL, doctorID, date, startTime string) (*api.SlotStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/slots/%s/%s/%s", baseURL, doctorID, date, startTime), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch slot status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch slot status: unexpected status %d", resp.StatusCode)
	}

	var status api.SlotStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode slot status: %w", err)
	}
	return &status, nil
}

type Report struct {
	Callers    int
	Capacity   int
	Booked     int
	SlotFull   int
	Conflicts  int
	Errors     int
	Latencies  []time.Duration
	Slot       *api.SlotStatusResponse
	Violations []string
}

// evaluate checks the responses against the booking guarantees: never more
// bookings than capacity, sequence numbers dense from 1, and the committed
// slot state agreeing with what callers were told.
func evaluate(results []outcome, capacity int, slot *api.SlotStatusResponse) Report {
	r := Report{Callers: len(results), Capacity: capacity, Slot: slot}

	var seqs []int
	for _, o := range results {
		r.Latencies = append(r.Latencies, o.latency)
		switch {
		case o.err != nil:
			r.Errors++
		case o.status == http.StatusCreated:
			r.Booked++
			seqs = append(seqs, o.seq)
		case o.code == "slot_full":
			r.SlotFull++
		case o.code == "transaction_conflict":
			r.Conflicts++
		default:
			r.Errors++
		}
	}

	if r.Booked > capacity {
		r.Violations = append(r.Violations, fmt.Sprintf("%d bookings exceed capacity %d", r.Booked, capacity))
	}
	slices.Sort(seqs)
	for i, seq := range seqs {
		if seq != i+1 {
			r.Violations = append(r.Violations, fmt.Sprintf("sequence numbers are not dense: %v", seqs))
			break
		}
	}
	if r.Booked < min(len(results), capacity) && r.Conflicts == 0 && r.Errors == 0 {
		r.Violations = append(r.Violations, fmt.Sprintf("only %d of %d seats taken with no conflicts", r.Booked, capacity))
	}
	if slot != nil {
		if slot.Booked != r.Booked {
			r.Violations = append(r.Violations, fmt.Sprintf("slot reports %d booked, callers saw %d", slot.Booked, r.Booked))
		}
		if slot.AcceptingBookings != (slot.Booked < capacity) {
			r.Violations = append(r.Violations, fmt.Sprintf("accepting_bookings=%t with %d of %d booked",
				slot.AcceptingBookings, slot.Booked, capacity))
		}
	}
	return r
}

func (r Report) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	if len(r.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	latencies := slices.Clone(r.Latencies)
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[0], latencies[n-1],
		latencies[min(n*50/100, n-1)], latencies[min(n*95/100, n-1)]
}

func (r Report) Print() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("CONTENTION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Callers: %d  Capacity: %d\n", r.Callers, r.Capacity)
	fmt.Printf("  Booked: %d\n", r.Booked)
	fmt.Printf("  Slot full: %d\n", r.SlotFull)
	if r.Conflicts > 0 {
		fmt.Printf("  Conflicts: %d\n", r.Conflicts)
	}
	if r.Errors > 0 {
		fmt.Printf("  Errors: %d\n", r.Errors)
	}
	avg, lo, hi, p50, p95 := r.Stats()
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	if r.Slot != nil {
		fmt.Printf("  Slot: booked=%d remaining=%d accepting=%t\n", r.Slot.Booked, r.Slot.Remaining, r.Slot.AcceptingBookings)
	}
	fmt.Println()

	if len(r.Violations) == 0 {
		fmt.Println("OK: no invariant violations")
		return
	}
	for _, v := range r.Violations {
		fmt.Println("VIOLATION:", v)
	}
}
