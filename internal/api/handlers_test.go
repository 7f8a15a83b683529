package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/api"
	"github.com/hackgods/slot-booking/internal/api/mocks"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/booking/bookingtest"
	"github.com/hackgods/slot-booking/internal/clock"
	"github.com/hackgods/slot-booking/internal/metrics"
)

type testServer struct {
	handler http.Handler
	repo    *booking.MemoryRepository
	metrics *metrics.Collector
	doctor  *booking.Doctor
	monday  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := booking.NewMemoryRepository(time.Second)
	m := metrics.NewCollector("test")
	svc := booking.NewService(repo, repo, clock.NewFixed(bookingtest.Today), zap.NewNop(), booking.WithMetrics(m))

	doctor := bookingtest.NewDoctor(t, repo,
		booking.ScheduleSlot{DayOfWeek: time.Monday, StartTime: "16:00", MaxCapacity: 2})

	return &testServer{
		handler: api.NewRouter(api.RouterConfig{
			Service: svc,
			Search:  booking.NewSearch(repo, zap.NewNop()),
			Metrics: m,
			Env:     "test",
		}),
		repo:    repo,
		metrics: m,
		doctor:  doctor,
		monday:  bookingtest.NextWeekday(bookingtest.Today, time.Monday).Format(booking.DateLayout),
	}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) book(t *testing.T, patientID uuid.UUID, startTime string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(api.CreateAppointmentRequest{
		DoctorID:  s.doctor.ID.String(),
		Date:      s.monday,
		StartTime: startTime,
		PatientID: patientID.String(),
		Reason:    "follow-up",
	})
	require.NoError(t, err)
	return s.do(t, http.MethodPost, "/appointments", string(body))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateAppointment(t *testing.T) {
	s := newTestServer(t)
	patient := bookingtest.NewPatient(t, s.repo)

	rec := s.book(t, patient.ID, "16:00")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decode[api.AppointmentResponse](t, rec)
	assert.Equal(t, 1, got.SeqNumber)
	assert.Equal(t, s.doctor.Name, got.DoctorName)
	assert.Equal(t, patient.Name, got.PatientName)
	assert.Equal(t, s.monday, got.Date)
	assert.Equal(t, "16:00", got.StartTime)
	assert.Equal(t, "follow-up", got.Reason)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointment_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	first := bookingtest.NewPatient(t, s.repo)
	second := bookingtest.NewPatient(t, s.repo)
	require.Equal(t, http.StatusCreated, s.book(t, first.ID, "16:00").Code)
	require.Equal(t, http.StatusCreated, s.book(t, second.ID, "16:00").Code)

	tests := []struct {
		name   string
		rec    func() *httptest.ResponseRecorder
		status int
		code   string
	}{
		{
			name:   "duplicate",
			rec:    func() *httptest.ResponseRecorder { return s.book(t, first.ID, "16:00") },
			status: http.StatusConflict,
			code:   "duplicate_booking",
		},
		{
			name:   "full",
			rec:    func() *httptest.ResponseRecorder { return s.book(t, bookingtest.NewPatient(t, s.repo).ID, "16:00") },
			status: http.StatusConflict,
			code:   "slot_full",
		},
		{
			name:   "no schedule",
			rec:    func() *httptest.ResponseRecorder { return s.book(t, first.ID, "09:00") },
			status: http.StatusUnprocessableEntity,
			code:   "no_schedule_for_slot",
		},
		{
			name:   "unknown patient",
			rec:    func() *httptest.ResponseRecorder { return s.book(t, uuid.New(), "16:00") },
			status: http.StatusNotFound,
			code:   "patient_not_found",
		},
		{
			name: "unknown doctor",
			rec: func() *httptest.ResponseRecorder {
				body := `{"doctor_id":"` + uuid.NewString() + `","date":"` + s.monday +
					`","start_time":"16:00","patient_id":"` + first.ID.String() + `"}`
				return s.do(t, http.MethodPost, "/appointments", body)
			},
			status: http.StatusNotFound,
			code:   "doctor_not_found",
		},
		{
			name: "missing date",
			rec: func() *httptest.ResponseRecorder {
				body := `{"doctor_id":"` + s.doctor.ID.String() + `","start_time":"16:00","patient_id":"` + first.ID.String() + `"}`
				return s.do(t, http.MethodPost, "/appointments", body)
			},
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "malformed body",
			rec:    func() *httptest.ResponseRecorder { return s.do(t, http.MethodPost, "/appointments", "{") },
			status: http.StatusBadRequest,
			code:   "invalid_request_body",
		},
		{
			name: "malformed doctor id",
			rec: func() *httptest.ResponseRecorder {
				return s.do(t, http.MethodPost, "/appointments", `{"doctor_id":"nope"}`)
			},
			status: http.StatusBadRequest,
			code:   "invalid_doctor_id",
		},
		{
			name: "malformed date",
			rec: func() *httptest.ResponseRecorder {
				body := `{"doctor_id":"` + s.doctor.ID.String() + `","date":"19/10/2026"}`
				return s.do(t, http.MethodPost, "/appointments", body)
			},
			status: http.StatusBadRequest,
			code:   "invalid_date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec()
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[api.ErrorResponse](t, rec).Error)
		})
	}

	t.Run("missing date details carry the engine message", func(t *testing.T) {
		body := `{"doctor_id":"` + s.doctor.ID.String() + `","start_time":"16:00","patient_id":"` + first.ID.String() + `"}`
		rec := s.do(t, http.MethodPost, "/appointments", body)
		assert.Equal(t, "Please select appointment date.", decode[api.ErrorResponse](t, rec).Details)
	})
}

func newMockedRouter(t *testing.T, retry booking.RetryPolicy) (http.Handler, *mocks.MockBookingService, *mocks.MockAppointmentFinder) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockBookingService(ctrl)
	finder := mocks.NewMockAppointmentFinder(ctrl)
	return api.NewRouter(api.RouterConfig{Service: svc, Search: finder, Retry: retry}), svc, finder
}

func postAppointment(handler http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body)))
	return rec
}

func TestCreateAppointment_PassesRequestToEngine(t *testing.T) {
	handler, svc, _ := newMockedRouter(t, booking.RetryPolicy{})
	doctorID, patientID := uuid.New(), uuid.New()
	registered := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	want := booking.BookingRequest{
		DoctorID:  doctorID,
		Date:      time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		StartTime: "9:00",
		PatientID: patientID,
		Reason:    "rash",
	}
	svc.EXPECT().Create(gomock.Any(), want).Return(&booking.AppointmentDetail{
		Appointment: booking.Appointment{
			Key: booking.AppointmentKey{
				SlotKey:   booking.NewSlotKey(doctorID, want.Date, "09:00"),
				PatientID: patientID,
			},
			SeqNumber:    4,
			Reason:       "rash",
			RegisteredAt: registered,
		},
		Doctor:  booking.Doctor{ID: doctorID, Name: "Dr. Okafor"},
		Patient: booking.Patient{ID: patientID, Name: "Mina Park", Phone: "555-0199"},
	}, nil)

	rec := postAppointment(handler, `{"doctor_id":"`+doctorID.String()+`","date":"2026-10-19","start_time":"9:00","patient_id":"`+patientID.String()+`","reason":"rash"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	expected := api.AppointmentResponse{
		DoctorID:     doctorID,
		DoctorName:   "Dr. Okafor",
		PatientID:    patientID,
		PatientName:  "Mina Park",
		PatientPhone: "555-0199",
		Date:         "2026-10-19",
		StartTime:    "09:00",
		SeqNumber:    4,
		Reason:       "rash",
		RegisteredAt: registered,
	}
	if diff := cmp.Diff(expected, decode[api.AppointmentResponse](t, rec)); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateAppointment_RetriesConflicts(t *testing.T) {
	handler, svc, _ := newMockedRouter(t, booking.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond})
	conflict := booking.Conflict("lock counter", errors.New("lock timeout"))

	gomock.InOrder(
		svc.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, conflict).Times(2),
		svc.EXPECT().Create(gomock.Any(), gomock.Any()).Return(&booking.AppointmentDetail{
			Appointment: booking.Appointment{SeqNumber: 1},
		}, nil),
	)

	rec := postAppointment(handler, scriptedRequest())
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateAppointment_ConflictWithoutRetry(t *testing.T) {
	handler, svc, _ := newMockedRouter(t, booking.RetryPolicy{})
	svc.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(nil, booking.Conflict("lock counter", errors.New("lock timeout"))).
		Times(1)

	rec := postAppointment(handler, scriptedRequest())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "transaction_conflict", decode[api.ErrorResponse](t, rec).Error)
}

func TestCreateAppointment_StoreFailureHidesCause(t *testing.T) {
	handler, svc, _ := newMockedRouter(t, booking.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond})
	// Times(1): store failures are not retried.
	svc.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(nil, booking.StoreFailure("insert appointment", errors.New("pq: password=hunter2"))).
		Times(1)

	rec := postAppointment(handler, scriptedRequest())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Equal(t, "platform error", decode[api.ErrorResponse](t, rec).Details)
}

func TestCreateAppointment_UnclassifiedErrorIsInternal(t *testing.T) {
	handler, svc, _ := newMockedRouter(t, booking.RetryPolicy{})
	svc.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))

	rec := postAppointment(handler, scriptedRequest())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, api.ErrorResponse{Error: "internal_error", Details: "internal server error"}, decode[api.ErrorResponse](t, rec))
}

func TestListAppointments_BuildsFilter(t *testing.T) {
	handler, _, finder := newMockedRouter(t, booking.RetryPolicy{})
	from := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC)
	canceled := false

	finder.EXPECT().Find(gomock.Any(), booking.SearchFilter{
		DoctorName:   "Dr. O",
		PatientName:  "mi",
		PatientPhone: "555",
		StartTime:    "16:00",
		From:         &from,
		To:           &to,
		Canceled:     &canceled,
	}).Return(nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/appointments?doctor_name=Dr.+O&patient_name=mi&patient_phone=555&start_time=16:00&from=2026-10-19&to=2026-10-23&canceled=false", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"appointments":[],"count":0}`, rec.Body.String())
}

func scriptedRequest() string {
	return `{"doctor_id":"` + uuid.NewString() + `","date":"2026-10-19","start_time":"16:00","patient_id":"` + uuid.NewString() + `"}`
}

func TestListAppointments(t *testing.T) {
	s := newTestServer(t)
	alice := bookingtest.NewNamedPatient(t, s.repo, "Alice Moreau", "555-0101")
	bob := bookingtest.NewNamedPatient(t, s.repo, "Bob Stone", "555-0202")
	require.Equal(t, http.StatusCreated, s.book(t, alice.ID, "16:00").Code)
	require.Equal(t, http.StatusCreated, s.book(t, bob.ID, "16:00").Code)

	rec := s.do(t, http.MethodGet, "/appointments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[api.AppointmentListResponse](t, rec).Count)

	rec = s.do(t, http.MethodGet, "/appointments?patient_name=ali&from="+s.monday+"&to="+s.monday+"&canceled=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.AppointmentListResponse](t, rec)
	require.Len(t, got.Appointments, 1)
	assert.Equal(t, alice.ID, got.Appointments[0].PatientID)
	assert.Equal(t, 1, got.Appointments[0].SeqNumber)

	rec = s.do(t, http.MethodGet, "/appointments?patient_phone=555-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[api.AppointmentListResponse](t, rec)
	require.Len(t, got.Appointments, 1)
	assert.Equal(t, bob.ID, got.Appointments[0].PatientID)

	rec = s.do(t, http.MethodGet, "/appointments?canceled=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[api.AppointmentListResponse](t, rec)
	assert.Empty(t, got.Appointments)
	assert.NotNil(t, got.Appointments)
}

func TestListAppointments_BadQuery(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		query string
		code  string
	}{
		{"from=yesterday", "invalid_date"},
		{"to=2026-13-01", "invalid_date"},
		{"canceled=maybe", "invalid_canceled"},
		{"start_time=25:00", "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/appointments?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[api.ErrorResponse](t, rec).Error)
		})
	}
}

func TestSlotStatus(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.book(t, bookingtest.NewPatient(t, s.repo).ID, "16:00").Code)

	rec := s.do(t, http.MethodGet, "/slots/"+s.doctor.ID.String()+"/"+s.monday+"/16:00", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[api.SlotStatusResponse](t, rec)
	assert.Equal(t, 2, got.MaxCapacity)
	assert.Equal(t, 1, got.Booked)
	assert.Equal(t, 1, got.Remaining)
	assert.True(t, got.AcceptingBookings)

	require.Equal(t, http.StatusCreated, s.book(t, bookingtest.NewPatient(t, s.repo).ID, "16:00").Code)
	got = decode[api.SlotStatusResponse](t, s.do(t, http.MethodGet, "/slots/"+s.doctor.ID.String()+"/"+s.monday+"/16:00", ""))
	assert.Equal(t, 0, got.Remaining)
	assert.False(t, got.AcceptingBookings)

	rec = s.do(t, http.MethodGet, "/slots/"+s.doctor.ID.String()+"/"+s.monday+"/10:00", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/slots/not-a-uuid/"+s.monday+"/16:00", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsByRoutePattern(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/slots/"+s.doctor.ID.String()+"/"+s.monday+"/16:00", "")
	s.do(t, http.MethodGet, "/slots/"+uuid.NewString()+"/"+s.monday+"/16:00", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(
		s.metrics.RequestsTotal.WithLabelValues(http.MethodGet, "/slots/{doctorID}/{date}/{startTime}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		s.metrics.RequestsTotal.WithLabelValues(http.MethodGet, "/slots/{doctorID}/{date}/{startTime}", "404")))

	rec := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_http_requests_total")
}
