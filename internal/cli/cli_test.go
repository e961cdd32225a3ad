package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// fakeAPI отвечает фиксированными данными и запоминает запросы.
type fakeAPI struct {
	paths []string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /api/v1/cluster/instances", func(w http.ResponseWriter, r *http.Request) {
		f.paths = append(f.paths, r.URL.RequestURI())
		write(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"instance_id": "node-a", "self": true, "checkin_interval": "7.5s"},
				{"instance_id": "node-b", "failed": true, "recoverer_id": "node-a"},
			},
			"total": 2,
		})
	})
	mux.HandleFunc("GET /api/v1/cluster/fired-triggers", func(w http.ResponseWriter, r *http.Request) {
		f.paths = append(f.paths, r.URL.RequestURI())
		write(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"fire_instance_id": "f1", "job_group": "billing", "job_name": "report", "job_is_stateful": true},
			},
		})
	})
	mux.HandleFunc("GET /api/v1/cluster/instances/{id}/fired-triggers", func(w http.ResponseWriter, r *http.Request) {
		f.paths = append(f.paths, r.URL.RequestURI())
		write(w, http.StatusOK, map[string]any{"data": []map[string]any{}})
	})
	mux.HandleFunc("POST /api/v1/cluster/recovery", func(w http.ResponseWriter, r *http.Request) {
		f.paths = append(f.paths, r.URL.RequestURI())
		write(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]string{"code": "UNAVAILABLE", "message": "cluster coordinator stopped"},
		})
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), api
}

// --- Client Tests ---

func TestClient_ListInstances(t *testing.T) {
	client, _ := newTestClient(t)

	instances, err := client.ListInstances()
	if err != nil {
		t.Fatalf("ListInstances() error = %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("instances = %d, want 2", len(instances))
	}
	if !instances[0].Self || !instances[1].Failed {
		t.Errorf("unexpected instances %+v", instances)
	}
}

func TestClient_ListFiredTriggers_Routes(t *testing.T) {
	client, api := newTestClient(t)

	if _, err := client.ListFiredTriggers(ListFiredOpts{Job: "billing.report"}); err != nil {
		t.Fatalf("ListFiredTriggers(job) error = %v", err)
	}
	if _, err := client.ListFiredTriggers(ListFiredOpts{InstanceID: "node-b"}); err != nil {
		t.Fatalf("ListFiredTriggers(instance) error = %v", err)
	}

	want := []string{
		"/api/v1/cluster/fired-triggers?job=billing.report",
		"/api/v1/cluster/instances/node-b/fired-triggers",
	}
	if len(api.paths) != len(want) {
		t.Fatalf("paths = %v, want %v", api.paths, want)
	}
	for i := range want {
		if api.paths[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, api.paths[i], want[i])
		}
	}
}

func TestClient_APIError(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.RunRecovery()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "UNAVAILABLE") {
		t.Errorf("error = %v, want UNAVAILABLE", err)
	}
}

// --- Command Tests ---

func runCmd(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.Execute()
}

func TestInstancesListCmd_Table(t *testing.T) {
	client, _ := newTestClient(t)
	var stdout bytes.Buffer
	out := NewOutputTo(false, &stdout, io.Discard)

	cmd := NewInstancesCmd(func() *Client { return client }, func() *Output { return out })
	if err := runCmd(t, cmd, "list"); err != nil {
		t.Fatalf("instances list: %v", err)
	}

	got := stdout.String()
	for _, want := range []string{"INSTANCE", "node-a", "ALIVE (self)", "RECOVERING"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestFiredListCmd_JSON(t *testing.T) {
	client, _ := newTestClient(t)
	var stdout bytes.Buffer
	out := NewOutputTo(true, &stdout, io.Discard)

	cmd := NewFiredCmd(func() *Client { return client }, func() *Output { return out })
	if err := runCmd(t, cmd, "list", "--job", "billing.report"); err != nil {
		t.Fatalf("fired list: %v", err)
	}

	var fired []FiredTriggerResponse
	if err := json.Unmarshal(stdout.Bytes(), &fired); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout.String())
	}
	if len(fired) != 1 || fired[0].FireInstanceID != "f1" {
		t.Errorf("unexpected output %+v", fired)
	}
}

func TestFiredListCmd_ExclusiveFlags(t *testing.T) {
	client, _ := newTestClient(t)
	out := NewOutputTo(false, io.Discard, io.Discard)

	cmd := NewFiredCmd(func() *Client { return client }, func() *Output { return out })
	err := runCmd(t, cmd, "list", "--job", "billing.report", "--instance", "node-b")
	if err == nil {
		t.Error("expected error for --job with --instance")
	}
}

func TestFiredFlags(t *testing.T) {
	if got := firedFlags(FiredTriggerResponse{}); got != "-" {
		t.Errorf("firedFlags(empty) = %q, want -", got)
	}
	got := firedFlags(FiredTriggerResponse{JobIsStateful: true, TriggerIsVolatile: true})
	if got != "stateful,volatile" {
		t.Errorf("firedFlags = %q, want stateful,volatile", got)
	}
}
