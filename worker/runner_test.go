package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	laps "github.com/laps-group/laps-go"
	"github.com/laps-group/laps-go/broker"
)

// wireResult mirrors the result layout the backend decodes.
type wireResult struct {
	JobID   string          `json:"job_id"`
	Outcome string          `json:"outcome"`
	Points  json.RawMessage `json:"points"`
}

// setupTestRedis creates a miniredis instance and returns its address.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, string) {
	t.Helper()
	s := miniredis.RunT(t)
	return s, fmt.Sprintf("redis://%s", s.Addr())
}

// newTestRunner wires a runner for the simple/1.0.0 identity against
// miniredis, with the console discarded.
func newTestRunner(t *testing.T, handler Handler) (*Runner, *miniredis.Miniredis) {
	t.Helper()

	s, redisURL := setupTestRedis(t)
	client, err := broker.New(redisURL)
	if err != nil {
		t.Fatalf("Failed to create broker client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	cfg := &Config{Name: "simple", Version: "1.0.0", TestMode: true}
	r, err := New(Options{Config: cfg, Handler: handler, Broker: client, Console: io.Discard})
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	return r, s
}

// pushJob enqueues a job envelope the way the backend submits work.
func pushJob(t *testing.T, s *miniredis.Miniredis, jobID string) {
	t.Helper()
	key := laps.WorkKey("simple", "1.0.0", true)
	if _, err := s.Lpush(key, fmt.Sprintf(`{"job_id":%q}`, jobID)); err != nil {
		t.Fatalf("Failed to push job: %v", err)
	}
}

// waitForListLen polls until the list at key has at least n entries.
func waitForListLen(t *testing.T, s *miniredis.Miniredis, key string, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := s.List(key)
		if err == nil && len(entries) >= n {
			return entries
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d entries on %s", n, key)
	return nil
}

// logsContain reports whether any record on the test log stream
// contains the substring.
func logsContain(s *miniredis.Miniredis, substr string) bool {
	entries, err := s.List(laps.LogKey(true))
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if strings.Contains(entry, substr) {
			return true
		}
	}
	return false
}

func noopHandler(ctx context.Context, r *Runner, job *Job) (any, error) {
	return nil, nil
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Handler: noopHandler}); err == nil {
		t.Error("New should reject a missing config")
	}

	cfg := &Config{Name: "simple", Version: "1.0.0"}
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Error("New should reject a missing handler")
	}
}

func TestRegister_Token(t *testing.T) {
	r, s := newTestRunner(t, noopHandler)

	if err := r.register(context.Background()); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	tokens, err := s.List(laps.RegisterKey(true))
	if err != nil {
		t.Fatalf("Failed to read register list: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("Expected 1 registration token, got %d", len(tokens))
	}
	if want := `{"name":"simple","version":"1.0.0"}`; tokens[0] != want {
		t.Errorf("Registration token = %s, want %s", tokens[0], want)
	}

	if !logsContain(s, "Registered as simple 1.0.0") {
		t.Error("Registration record missing from the log stream")
	}
}

func TestRegister_Twice(t *testing.T) {
	r, _ := newTestRunner(t, noopHandler)

	if err := r.register(context.Background()); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	err := r.register(context.Background())
	if err == nil {
		t.Fatal("second register should fail")
	}

	var regErr *laps.RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("error %v is not a RegistrationError", err)
	}
	if !errors.Is(err, laps.ErrAlreadyRegistered) {
		t.Errorf("error %v does not wrap ErrAlreadyRegistered", err)
	}
}

func TestRegister_ScaleOut(t *testing.T) {
	r, s := newTestRunner(t, noopHandler)

	// Another replica of the same module is already announced.
	s.SAdd(laps.RegisteredModulesKey(true), `{"name":"simple","version":"1.0.0"}`)

	if err := r.register(context.Background()); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if !logsContain(s, "already registered, assuming scale-out") {
		t.Error("Expected a scale-out warning on the log stream")
	}

	tokens, err := s.List(laps.RegisterKey(true))
	if err != nil || len(tokens) != 1 {
		t.Fatalf("Expected the registration push to happen anyway, got %v (err %v)", tokens, err)
	}
}

func TestRun_ServesJobs(t *testing.T) {
	type point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	handler := func(ctx context.Context, r *Runner, job *Job) (any, error) {
		return []point{{X: 1, Y: 2}}, nil
	}

	r, s := newTestRunner(t, handler)
	pushJob(t, s, "abc")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()

	entries := waitForListLen(t, s, laps.ResultsKey(true), 1)

	var res wireResult
	if err := json.Unmarshal([]byte(entries[0]), &res); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if res.JobID != "abc" {
		t.Errorf("Result job id = %q, want %q", res.JobID, "abc")
	}
	if res.Outcome != "success" {
		t.Errorf("Result outcome = %q, want success", res.Outcome)
	}
	if string(res.Points) != `[{"x":1,"y":2}]` {
		t.Errorf("Result points = %s, want [{\"x\":1,\"y\":2}]", res.Points)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}

	if !logsContain(s, "Got job abc") || !logsContain(s, "Completed job abc") {
		t.Error("Job lifecycle records missing from the log stream")
	}

	notices, err := s.List(laps.ShutdownKey(true))
	if err != nil || len(notices) != 1 {
		t.Errorf("Expected 1 shutdown notice, got %v (err %v)", notices, err)
	}
	if r.State() != StateTerminated {
		t.Errorf("State = %v, want %v", r.State(), StateTerminated)
	}
}

func TestRun_DialsFromConfig(t *testing.T) {
	s, _ := setupTestRedis(t)

	host, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("Failed to split miniredis address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Failed to parse miniredis port: %v", err)
	}

	cfg := &Config{
		Name:     "simple",
		Version:  "1.0.0",
		Redis:    &RedisConfig{Host: host, Port: port},
		TestMode: true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, Options{Config: cfg, Handler: noopHandler, Console: io.Discard})
	}()

	waitForListLen(t, s, laps.RegisterKey(true), 1)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func TestRun_RecoverableFailure(t *testing.T) {
	handler := func(ctx context.Context, r *Runner, job *Job) (any, error) {
		if job.ID == "x1" {
			return nil, laps.Failf("Map %d is missing!", 42)
		}
		return []string{"ok"}, nil
	}

	r, s := newTestRunner(t, handler)
	pushJob(t, s, "x1")
	pushJob(t, s, "abc")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()

	entries := waitForListLen(t, s, laps.ResultsKey(true), 2)

	// LPUSH puts the newest report first: abc's success, then x1's failure.
	var first, second wireResult
	if err := json.Unmarshal([]byte(entries[0]), &first); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if err := json.Unmarshal([]byte(entries[1]), &second); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if first.JobID != "abc" || first.Outcome != "success" {
		t.Errorf("Newest result = %+v, want abc/success", first)
	}
	if second.JobID != "x1" || second.Outcome != "failure" {
		t.Errorf("Oldest result = %+v, want x1/failure", second)
	}
	if second.Points != nil {
		t.Errorf("Failure result carries points: %s", second.Points)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned error after recoverable failure: %v", err)
	}

	if !logsContain(s, "Job x1 failed") || !logsContain(s, "Map 42 is missing!") {
		t.Error("Failure record missing from the log stream")
	}
}

func TestRun_UnexpectedErrorStops(t *testing.T) {
	handler := func(ctx context.Context, r *Runner, job *Job) (any, error) {
		return nil, errors.New("boom")
	}

	r, s := newTestRunner(t, handler)
	pushJob(t, s, "bad1")

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("Run should return the handler error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("Run error = %v, want it to mention boom", err)
	}

	entries, listErr := s.List(laps.ResultsKey(true))
	if listErr != nil || len(entries) != 1 {
		t.Fatalf("Expected 1 failure result, got %v (err %v)", entries, listErr)
	}
	var res wireResult
	if err := json.Unmarshal([]byte(entries[0]), &res); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if res.JobID != "bad1" || res.Outcome != "failure" {
		t.Errorf("Result = %+v, want bad1/failure", res)
	}

	notices, listErr := s.List(laps.ShutdownKey(true))
	if listErr != nil || len(notices) != 1 {
		t.Errorf("Expected 1 shutdown notice, got %v (err %v)", notices, listErr)
	}
	if !logsContain(s, "Worker failed") {
		t.Error("Crash record missing from the log stream")
	}
	if r.State() != StateTerminated {
		t.Errorf("State = %v, want %v", r.State(), StateTerminated)
	}
}

func TestRun_HandlerPanic(t *testing.T) {
	handler := func(ctx context.Context, r *Runner, job *Job) (any, error) {
		panic("kaboom")
	}

	r, s := newTestRunner(t, handler)
	pushJob(t, s, "abc")

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("Run should surface the panic as an error")
	}
	if !strings.Contains(err.Error(), "panicked") || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("Run error = %v, want a panic message", err)
	}

	entries, listErr := s.List(laps.ResultsKey(true))
	if listErr != nil || len(entries) != 1 {
		t.Fatalf("Expected the panic to be reported as a failure, got %v (err %v)", entries, listErr)
	}
	if !strings.Contains(entries[0], `"failure"`) {
		t.Errorf("Result = %s, want a failure outcome", entries[0])
	}
}

func TestRun_MalformedEnvelope(t *testing.T) {
	r, s := newTestRunner(t, noopHandler)

	key := laps.WorkKey("simple", "1.0.0", true)
	if _, err := s.Lpush(key, "not json"); err != nil {
		t.Fatalf("Failed to push envelope: %v", err)
	}

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail on a malformed envelope")
	}

	if s.Exists(laps.ResultsKey(true)) {
		t.Error("No result may be reported for an undecodable envelope")
	}
	if !logsContain(s, "Failed to decode job envelope") {
		t.Error("Decode failure record missing from the log stream")
	}
}

func TestRun_MissingJobID(t *testing.T) {
	r, s := newTestRunner(t, noopHandler)

	key := laps.WorkKey("simple", "1.0.0", true)
	if _, err := s.Lpush(key, `{"payload":{}}`); err != nil {
		t.Fatalf("Failed to push envelope: %v", err)
	}

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail on an envelope without a job id")
	}
	if !strings.Contains(err.Error(), "missing job_id") {
		t.Errorf("Run error = %v, want it to mention the missing job_id", err)
	}
	if s.Exists(laps.ResultsKey(true)) {
		t.Error("No result may be reported for an envelope without a job id")
	}
}

func TestRun_MidJobCancellation(t *testing.T) {
	handlerStarted := make(chan struct{})
	handler := func(ctx context.Context, r *Runner, job *Job) (any, error) {
		close(handlerStarted)
		<-ctx.Done()
		return []string{"partial"}, nil
	}

	r, s := newTestRunner(t, handler)
	pushJob(t, s, "abc")

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("Handler never started")
	}

	// Cancel while the handler is mid-job. The result must still be
	// reported before the worker exits.
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}

	entries, err := s.List(laps.ResultsKey(true))
	if err != nil || len(entries) != 1 {
		t.Fatalf("Expected 1 result despite cancellation, got %v (err %v)", entries, err)
	}
	if !strings.Contains(entries[0], `"success"`) {
		t.Errorf("Result = %s, want a success outcome", entries[0])
	}
}

func TestRun_ExitsOnInterrupt(t *testing.T) {
	r, s := newTestRunner(t, noopHandler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(context.Background())
	}()

	// Wait for the loop to reach the blocking dequeue.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.State() != StateBlocking {
		time.Sleep(10 * time.Millisecond)
	}
	if r.State() != StateBlocking {
		t.Fatalf("Runner never reached the blocking state, state = %v", r.State())
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("Failed to send SIGINT: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error after interrupt: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after interrupt")
	}

	if s.Exists(laps.ResultsKey(true)) {
		t.Error("No results should be reported for an idle interrupt")
	}
	notices, err := s.List(laps.ShutdownKey(true))
	if err != nil || len(notices) != 1 {
		t.Errorf("Expected 1 shutdown notice, got %v (err %v)", notices, err)
	}
	if !logsContain(s, "Shutdown signal received") {
		t.Error("Signal record missing from the log stream")
	}
}

func TestRun_CanOnlyRunOnce(t *testing.T) {
	r, s := newTestRunner(t, noopHandler)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()

	waitForListLen(t, s, laps.RegisterKey(true), 1)
	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("First run returned error: %v", err)
	}

	err := r.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "can only run once") {
		t.Errorf("Second run error = %v, want the single-run guard", err)
	}

	// The single-run guard must not push a second shutdown notice.
	notices, listErr := s.List(laps.ShutdownKey(true))
	if listErr != nil || len(notices) != 1 {
		t.Errorf("Expected 1 shutdown notice, got %v (err %v)", notices, listErr)
	}
}

// mockBroker is an in-memory broker.Client for failure injection.
// Pushed values are recorded in arrival order.
type mockBroker struct {
	mu       sync.Mutex
	lists    map[string][]string
	jobs     chan string
	lpushErr error
}

var _ broker.Client = (*mockBroker)(nil)

func newMockBroker() *mockBroker {
	return &mockBroker{
		lists: make(map[string][]string),
		jobs:  make(chan string, 16),
	}
}

func (m *mockBroker) record(key string, values ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		switch s := v.(type) {
		case string:
			m.lists[key] = append(m.lists[key], s)
		case []byte:
			m.lists[key] = append(m.lists[key], string(s))
		default:
			m.lists[key] = append(m.lists[key], fmt.Sprint(v))
		}
	}
}

func (m *mockBroker) list(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lists[key]...)
}

func (m *mockBroker) LPush(ctx context.Context, key string, values ...any) error {
	if m.lpushErr != nil {
		return m.lpushErr
	}
	m.record(key, values...)
	return nil
}

func (m *mockBroker) RPush(ctx context.Context, key string, values ...any) error {
	m.record(key, values...)
	return nil
}

func (m *mockBroker) BRPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	select {
	case v := <-m.jobs:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *mockBroker) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	return false, nil
}

func (m *mockBroker) SMembers(ctx context.Context, key string) ([]string, error) {
	return nil, nil
}

func (m *mockBroker) HGet(ctx context.Context, key, field string) (string, error) {
	return "", broker.ErrNotFound
}

func (m *mockBroker) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return m.list(key), nil
}

func (m *mockBroker) LLen(ctx context.Context, key string) (int64, error) {
	return int64(len(m.list(key))), nil
}

func (m *mockBroker) Ping(ctx context.Context) error { return nil }

func (m *mockBroker) Close() error { return nil }

func TestRun_ReporterFailureIsFatal(t *testing.T) {
	m := newMockBroker()
	m.lpushErr = errors.New("result queue unavailable")
	m.jobs <- `{"job_id":"abc"}`

	cfg := &Config{Name: "simple", Version: "1.0.0", TestMode: true}
	r, err := New(Options{Config: cfg, Handler: noopHandler, Broker: m, Console: io.Discard})
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}

	err = r.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail when the result push fails")
	}
	if !strings.Contains(err.Error(), "failed to report result for job abc") {
		t.Errorf("Run error = %v, want the report failure", err)
	}

	// The shutdown notice goes through RPUSH and must still be sent.
	if got := len(m.list(laps.ShutdownKey(true))); got != 1 {
		t.Errorf("Expected 1 shutdown notice, got %d", got)
	}
}

func TestRun_OneJobInFlight(t *testing.T) {
	var current, maxSeen atomic.Int32

	handler := func(ctx context.Context, r *Runner, job *Job) (any, error) {
		c := current.Add(1)
		for {
			seen := maxSeen.Load()
			if c <= seen || maxSeen.CompareAndSwap(seen, c) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return "ok", nil
	}

	m := newMockBroker()
	for i := 0; i < 3; i++ {
		m.jobs <- fmt.Sprintf(`{"job_id":"job-%d"}`, i)
	}

	cfg := &Config{Name: "simple", Version: "1.0.0", TestMode: true}
	r, err := New(Options{Config: cfg, Handler: handler, Broker: m, Console: io.Discard})
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(m.list(laps.ResultsKey(true))) < 3 {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	results := m.list(laps.ResultsKey(true))
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if !strings.Contains(res, fmt.Sprintf("job-%d", i)) {
			t.Errorf("Result %d = %s, want job-%d", i, res, i)
		}
	}
	if got := maxSeen.Load(); got != 1 {
		t.Errorf("Expected at most one job in flight, saw %d", got)
	}
}
