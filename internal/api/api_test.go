package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shaiso/jobstore/internal/cluster"
	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/lock"
	"github.com/shaiso/jobstore/internal/repo/memrepo"
)

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type listBody[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

func newServer(t *testing.T) (*httptest.Server, *memrepo.DB, *cluster.Coordinator) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memrepo.New()
	ctx := context.Background()

	states := []domain.SchedulerState{
		{InstanceID: "node-a", LastCheckinTime: base, CheckinInterval: 10 * time.Second},
		{InstanceID: "node-b", LastCheckinTime: base.Add(-time.Minute), CheckinInterval: 10 * time.Second},
	}
	for i := range states {
		if err := db.SchedulerStates().Insert(ctx, nil, &states[i]); err != nil {
			t.Fatalf("insert state: %v", err)
		}
	}

	job := &domain.Job{Key: domain.JobKey{Name: "report", Group: "billing"}, Durable: true}
	if err := db.Jobs().Insert(ctx, nil, job); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	fired := &domain.FiredTrigger{
		FireInstanceID:      "f1",
		TriggerKey:          domain.TriggerKey{Name: "t1", Group: "billing"},
		JobKey:              job.Key,
		SchedulerInstanceID: "node-b",
		FireTimestamp:       base.Add(-2 * time.Minute),
		State:               domain.FireStateAcquired,
	}
	if err := db.FiredTriggers().Insert(ctx, nil, fired); err != nil {
		t.Fatalf("insert fired trigger: %v", err)
	}

	coord := cluster.New(cluster.Config{
		Stores:          db.Stores(),
		Semaphore:       lock.NewLocalSemaphore(logger),
		InstanceID:      "node-a",
		CheckinInterval: 10 * time.Second,
		Logger:          logger,
		Now:             func() time.Time { return base },
	})

	mux := http.NewServeMux()
	NewHandler(Config{Cluster: coord, Logger: logger}).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, db, coord
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

// --- Instances Tests ---

func TestListInstances(t *testing.T) {
	srv, _, _ := newServer(t)

	var body listBody[InstanceResponse]
	getJSON(t, srv.URL+"/api/v1/cluster/instances", http.StatusOK, &body)

	if body.Total != 2 {
		t.Fatalf("total = %d, want 2", body.Total)
	}

	byID := make(map[string]InstanceResponse)
	for _, inst := range body.Data {
		byID[inst.InstanceID] = inst
	}

	a, b := byID["node-a"], byID["node-b"]
	if !a.Self || a.Failed {
		t.Errorf("node-a = %+v, want self and alive", a)
	}
	if b.Self || !b.Failed {
		t.Errorf("node-b = %+v, want failed", b)
	}
	if b.CheckinInterval != "10s" {
		t.Errorf("CheckinInterval = %q, want 10s", b.CheckinInterval)
	}
	wantDeadline := base.Add(-time.Minute).Add(20 * time.Second)
	if !b.FailureDeadline.Equal(wantDeadline) {
		t.Errorf("FailureDeadline = %v, want %v", b.FailureDeadline, wantDeadline)
	}
}

// --- Fired Triggers Tests ---

func TestListInstanceFiredTriggers(t *testing.T) {
	srv, _, _ := newServer(t)

	var body listBody[FiredTriggerResponse]
	getJSON(t, srv.URL+"/api/v1/cluster/instances/node-b/fired-triggers", http.StatusOK, &body)

	if len(body.Data) != 1 {
		t.Fatalf("fired triggers = %d, want 1", len(body.Data))
	}
	ft := body.Data[0]
	if ft.FireInstanceID != "f1" || ft.State != "ACQUIRED" || ft.JobGroup != "billing" {
		t.Errorf("unexpected fired trigger %+v", ft)
	}

	var empty listBody[FiredTriggerResponse]
	getJSON(t, srv.URL+"/api/v1/cluster/instances/node-a/fired-triggers", http.StatusOK, &empty)
	if len(empty.Data) != 0 {
		t.Errorf("node-a fired triggers = %d, want 0", len(empty.Data))
	}
}

func TestListFiredTriggers_ByJob(t *testing.T) {
	srv, _, _ := newServer(t)

	var body listBody[FiredTriggerResponse]
	getJSON(t, srv.URL+"/api/v1/cluster/fired-triggers?job=billing.report", http.StatusOK, &body)
	if len(body.Data) != 1 {
		t.Errorf("fired triggers for job = %d, want 1", len(body.Data))
	}

	var other listBody[FiredTriggerResponse]
	getJSON(t, srv.URL+"/api/v1/cluster/fired-triggers?job=other.report", http.StatusOK, &other)
	if len(other.Data) != 0 {
		t.Errorf("fired triggers for other job = %d, want 0", len(other.Data))
	}

	var all listBody[FiredTriggerResponse]
	getJSON(t, srv.URL+"/api/v1/cluster/fired-triggers", http.StatusOK, &all)
	if len(all.Data) != 1 {
		t.Errorf("all fired triggers = %d, want 1", len(all.Data))
	}
}

func TestListFiredTriggers_InvalidJob(t *testing.T) {
	srv, _, _ := newServer(t)

	var body ErrorResponse
	getJSON(t, srv.URL+"/api/v1/cluster/fired-triggers?job=billing.", http.StatusBadRequest, &body)
	if body.Error.Code != ErrCodeBadRequest {
		t.Errorf("code = %s, want %s", body.Error.Code, ErrCodeBadRequest)
	}
}

// --- Recovery Tests ---

func TestRunRecovery(t *testing.T) {
	srv, db, _ := newServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/cluster/recovery", "application/json", nil)
	if err != nil {
		t.Fatalf("POST recovery: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Data RecoveryResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if body.Data.InstanceID != "node-a" {
		t.Errorf("InstanceID = %q, want node-a", body.Data.InstanceID)
	}
	if len(body.Data.Recovered) != 1 || body.Data.Recovered[0] != "node-b" {
		t.Errorf("Recovered = %v, want [node-b]", body.Data.Recovered)
	}
	if body.Data.Released != 1 {
		t.Errorf("Released = %d, want 1", body.Data.Released)
	}

	rows, _ := db.FiredTriggers().FindAll(context.Background(), nil)
	if len(rows) != 0 {
		t.Errorf("fired rows after recovery = %d, want 0", len(rows))
	}
}

func TestRunRecovery_Stopped(t *testing.T) {
	srv, _, coord := newServer(t)

	if err := coord.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	resp, err := http.Post(srv.URL+"/api/v1/cluster/recovery", "application/json", nil)
	if err != nil {
		t.Fatalf("POST recovery: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

// --- Middleware Tests ---

func TestRecovery_Panic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
