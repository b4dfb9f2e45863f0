package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/auth"
	"github.com/hackgods/visit-booking/internal/calendar"
	"github.com/hackgods/visit-booking/internal/config"
	"github.com/hackgods/visit-booking/internal/logger"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	DecisionRatio float64
	ReadRatio     float64
	Patients      int
	Facilities    int
	Days          int
	SigningKey    []byte
}

// DataPool holds the identities and appointments workers pick from.
type DataPool struct {
	Patients     []string
	Facilities   []string
	Dates        []string
	tokens       map[string]string
	staffToken   string
	mu           sync.RWMutex
	appointments []createdAppointment
}

type createdAppointment struct {
	ID      uuid.UUID
	Patient string
}

func (dp *DataPool) AddAppointment(a createdAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (createdAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return createdAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

// outcome classifies a response for the report.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeRejected // 4xx other than 409: illegal for the current state, invalid slot
	outcomeError
)

func classify(status int, err error) outcome {
	switch {
	case err != nil:
		return outcomeError
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status == http.StatusConflict:
		return outcomeConflict
	case status >= 400 && status < 500:
		return outcomeRejected
	}
	return outcomeError
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeRejected:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking      OperationMetrics
	Decision     OperationMetrics
	Accept       OperationMetrics
	ReadByID     OperationMetrics
	ListMine     OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(baseCfg.LogLevel, baseCfg.Env)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("decision", cfg.DecisionRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	dataPool, err := buildDataPool(cfg, time.Now().In(baseCfg.Location))
	if err != nil {
		log.Fatal("build data pool", zap.Error(err))
	}

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		DecisionRatio: getFloat("SIM_DECISION_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		Patients:      getInt("SIM_PATIENTS", 500),
		Facilities:    getInt("SIM_FACILITIES", 3),
		Days:          getInt("SIM_DAYS", 5),
		SigningKey:    []byte(base.JWTSigningKey),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.DecisionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.DecisionRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if len(cfg.SigningKey) == 0 {
		return fmt.Errorf("JWT_SIGNING_KEY is required to mint caller tokens")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 || cfg.Facilities <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("SIM_PATIENTS, SIM_FACILITIES and SIM_DAYS must be > 0")
	}
	return nil
}

// buildDataPool keeps the slot space small on purpose so workers collide.
func buildDataPool(cfg SimConfig, now time.Time) (*DataPool, error) {
	dp := &DataPool{tokens: make(map[string]string, cfg.Patients)}

	ttl := cfg.Duration + time.Hour
	staff, err := auth.Issue(cfg.SigningKey, "sim-staff", true, ttl)
	if err != nil {
		return nil, fmt.Errorf("issue staff token: %w", err)
	}
	dp.staffToken = staff

	for i := 0; i < cfg.Patients; i++ {
		id := "sim-patient-" + strconv.Itoa(i)
		tok, err := auth.Issue(cfg.SigningKey, id, false, ttl)
		if err != nil {
			return nil, fmt.Errorf("issue patient token: %w", err)
		}
		dp.Patients = append(dp.Patients, id)
		dp.tokens[id] = tok
	}

	for i := 0; i < cfg.Facilities; i++ {
		dp.Facilities = append(dp.Facilities, "sim-facility-"+strconv.Itoa(i))
	}

	d := calendar.MinBookableDate(now)
	for len(dp.Dates) < cfg.Days {
		dp.Dates = append(dp.Dates, d.String())
		d = calendar.NextWeekday(d.AddDays(1))
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.DecisionRatio:
				s.doDecision(ctx, rng)
			default:
				switch rng.Intn(4) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListMine(ctx, rng)
				case 2:
					s.doAvailability(ctx, rng)
				case 3:
					s.doAccept(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) randomSlot(rng *rand.Rand) (facility, date, slotTime string) {
	slots := calendar.Slots()
	return s.pool.Facilities[rng.Intn(len(s.pool.Facilities))],
		s.pool.Dates[rng.Intn(len(s.pool.Dates))],
		slots[rng.Intn(len(slots))]
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	facility, date, slotTime := s.randomSlot(rng)

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	latency, status, err := s.call(ctx, http.MethodPost, "/api/appointments", s.pool.tokens[patient], map[string]string{
		"facility": facility,
		"date":     date,
		"time":     slotTime,
	}, &created)
	if err == nil && status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(createdAppointment{ID: created.ID, Patient: patient})
	}
	s.metrics.Booking.Record(latency, classify(status, err))
}

// doDecision is the staff side: confirm, reject or counter-propose.
func (s *Simulator) doDecision(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	var (
		latency time.Duration
		status  int
		err     error
	)
	path := "/api/appointments/" + appt.ID.String()
	switch rng.Intn(3) {
	case 0:
		latency, status, err = s.call(ctx, http.MethodPut, path+"/status", s.pool.staffToken, map[string]string{"status": "CONFIRMED"}, nil)
	case 1:
		latency, status, err = s.call(ctx, http.MethodPut, path+"/status", s.pool.staffToken, map[string]string{"status": "REJECTED"}, nil)
	default:
		_, date, slotTime := s.randomSlot(rng)
		latency, status, err = s.call(ctx, http.MethodPut, path+"/propose", s.pool.staffToken, map[string]string{
			"proposed_date": date,
			"proposed_time": slotTime,
		}, nil)
	}
	s.metrics.Decision.Record(latency, classify(status, err))
}

func (s *Simulator) doAccept(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	latency, status, err := s.call(ctx, http.MethodPut, "/api/appointments/"+appt.ID.String()+"/accept", s.pool.tokens[appt.Patient], nil, nil)
	s.metrics.Accept.Record(latency, classify(status, err))
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	latency, status, err := s.call(ctx, http.MethodGet, "/api/appointments/"+appt.ID.String(), s.pool.tokens[appt.Patient], nil, nil)
	s.metrics.ReadByID.Record(latency, classify(status, err))
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	latency, status, err := s.call(ctx, http.MethodGet, "/api/appointments", s.pool.tokens[patient], nil, nil)
	s.metrics.ListMine.Record(latency, classify(status, err))
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	facility, date, _ := s.randomSlot(rng)
	latency, status, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/api/appointments/availability?facility=%s&date=%s", facility, date), s.pool.tokens[patient], nil, nil)
	s.metrics.Availability.Record(latency, classify(status, err))
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body, out any) (time.Duration, int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, r)
	if err != nil {
		return 0, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return latency, resp.StatusCode, err
		}
		return latency, resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return latency, resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Slot space: %d facilities x %d days x %d times\n",
		len(s.pool.Facilities), len(s.pool.Dates), len(calendar.Slots()))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Staff decision", &s.metrics.Decision)
	printOperationReport("Accept proposal", &s.metrics.Accept)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List mine", &s.metrics.ListMine)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	rejected := atomic.LoadInt64(&om.Rejected)
	errs := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, pct(errs))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
