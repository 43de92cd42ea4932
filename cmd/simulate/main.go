package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SimConfig drives a booking race against a running api-server. Many
// patients compete for a small set of slots, so most attempts should end
// in a conflict and no slot should ever hold two scheduled sessions.
type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	Patients    int
	SlotLimit   int
	CancelRatio float64
	ReadRatio   float64
}

type slotRef struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type booked struct {
	ID     uuid.UUID
	UserID string
}

// DataPool holds the slots under contention and the appointments won so far.
type DataPool struct {
	Patients []string
	Slots    []slotRef

	mu     sync.Mutex
	booked []booked
}

func (dp *DataPool) add(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
}

// take removes a random booked appointment so it is cancelled only once.
func (dp *DataPool) take(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return booked{}, false
	}
	i := rng.Intn(len(dp.booked))
	b := dp.booked[i]
	dp.booked[i] = dp.booked[len(dp.booked)-1]
	dp.booked = dp.booked[:len(dp.booked)-1]
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, ok int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == ok:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		i := len(latencies) * pct / 100
		if i >= len(latencies) {
			i = len(latencies) - 1
		}
		return latencies[i]
	}
	return sum / time.Duration(len(latencies)), at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Book     OperationMetrics
	Cancel   OperationMetrics
	Upcoming OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("service", "simulate").Logger()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := sim.loadDataPool(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = pool
	logger.Info().Int("patients", len(pool.Patients)).Int("slots", len(pool.Slots)).
		Dur("duration", cfg.Duration).Int("workers", cfg.Workers).Msg("simulator starting")

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:  strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:    getDuration("SIM_DURATION", 20*time.Second),
		Workers:     getInt("SIM_WORKERS", 16),
		Patients:    getInt("SIM_PATIENTS", 200),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 10),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.2),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 || cfg.SlotLimit <= 0 {
		return fmt.Errorf("SIM_PATIENTS and SIM_SLOT_LIMIT must be > 0")
	}
	if cfg.CancelRatio+cfg.ReadRatio >= 1 {
		return fmt.Errorf("SIM_CANCEL_RATIO + SIM_READ_RATIO must leave room for bookings")
	}
	return nil
}

// loadDataPool asks the server for its slot grid and keeps the first
// offerable future slots.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/slots?days=14", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch slot grid: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch slot grid: status %d", resp.StatusCode)
	}

	var grid []struct {
		Date  string `json:"date"`
		Slots []struct {
			Time      string `json:"time"`
			Offerable bool   `json:"offerable"`
		} `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grid); err != nil {
		return nil, fmt.Errorf("decode slot grid: %w", err)
	}

	pool := &DataPool{}
	// Skip today so no attempt turns into a past-date confirmation.
	for _, day := range grid[min(1, len(grid)):] {
		for _, st := range day.Slots {
			if st.Offerable && len(pool.Slots) < s.config.SlotLimit {
				pool.Slots = append(pool.Slots, slotRef{Date: day.Date, Time: st.Time})
			}
		}
	}
	if len(pool.Slots) == 0 {
		return nil, fmt.Errorf("no offerable slots in the next 14 days")
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	for i := 0; i < s.config.Patients; i++ {
		pool.Patients = append(pool.Patients, faker.Username()+"-"+uuid.NewString()[:8])
	}
	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.CancelRatio+s.config.ReadRatio:
			s.doUpcoming(ctx, rng)
		default:
			s.doBook(ctx, rng)
		}
	}
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	user := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body, _ := json.Marshal(map[string]any{
		"slots": []slotRef{slot},
		"notes": "simulated booking",
	})

	start := time.Now()
	status, payload, err := s.call(ctx, http.MethodPost, "/appointments", user, body)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.Book.Record(time.Since(start), 0, http.StatusCreated)
		}
		return
	}
	s.metrics.Book.Record(time.Since(start), status, http.StatusCreated)

	if status == http.StatusCreated {
		var resp struct {
			Appointments []struct {
				ID uuid.UUID `json:"id"`
			} `json:"appointments"`
		}
		if json.Unmarshal(payload, &resp) == nil {
			for _, a := range resp.Appointments {
				s.pool.add(booked{ID: a.ID, UserID: user})
			}
		}
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.take(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", b.UserID, nil)
	if err != nil && ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(time.Since(start), status, http.StatusOK)
}

func (s *Simulator) doUpcoming(ctx context.Context, rng *rand.Rand) {
	user := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet, "/appointments/upcoming", user, nil)
	if err != nil && ctx.Err() != nil {
		return
	}
	s.metrics.Upcoming.Record(time.Since(start), status, http.StatusOK)
}

func (s *Simulator) call(ctx context.Context, method, path, user string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", user)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes(), nil
}

func (s *Simulator) PrintReport() {
	line := strings.Repeat("=", 80)
	fmt.Println("\n" + line)
	fmt.Println("BOOKING RACE REPORT")
	fmt.Println(line)
	fmt.Printf("Duration: %s  Workers: %d  Patients: %d  Contended slots: %d\n\n",
		s.config.Duration, s.config.Workers, len(s.pool.Patients), len(s.pool.Slots))

	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Upcoming", &s.metrics.Upcoming)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Percentiles()

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}
