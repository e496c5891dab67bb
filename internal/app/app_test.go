package app

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/polyquery/polyquery/internal/config"
	"github.com/polyquery/polyquery/internal/engine"
	"github.com/polyquery/polyquery/pkg/types"
)

func demoApp(t *testing.T) (*App, *config.Config) {
	t.Helper()
	cfg := DemoConfig()
	cfg.DefaultTrialCount = 3
	for i := range cfg.Stores {
		cfg.Stores[i].ScanLatency = time.Millisecond
	}
	dir := t.TempDir()
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Report.Enabled = true
	cfg.Report.Format = "csv"
	cfg.Report.Storage.Path = filepath.Join(dir, "reports")

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a, cfg
}

func TestNew_Demo(t *testing.T) {
	a, _ := demoApp(t)
	defer a.Close()

	if got := a.Stores(); len(got) != 2 || got[0] != "mongo" || got[1] != "cassandra" {
		t.Errorf("Stores = %v", got)
	}
	snap, err := a.Engine().RefreshSchema(context.Background())
	if err != nil {
		t.Fatalf("RefreshSchema failed: %v", err)
	}
	if snap.StoreKind("cassandra") != types.StoreColumn {
		t.Errorf("kind not wired: %s", snap.StoreKind("cassandra"))
	}
	if a.History() == nil {
		t.Error("history should be open when a path is configured")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("a config without stores should be rejected")
	}
}

func TestNew_BadFixtureClosesOpenedStores(t *testing.T) {
	cfg := DemoConfig()
	cfg.Stores = append(cfg.Stores, config.StoreConfig{
		ID: "broken", Kind: "column", Driver: config.DriverMemory,
		Fixture: filepath.Join(t.TempDir(), "missing.json"),
	})
	_, err := New(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected error naming the store, got %v", err)
	}
}

func TestRun_BenchmarkRecordsHistory(t *testing.T) {
	a, _ := demoApp(t)

	var res *engine.BenchmarkResult
	err := a.Run(context.Background(), func(ctx context.Context, e *engine.Engine) error {
		var err error
		res, err = e.Benchmark(ctx, engine.BenchmarkRequest{Filters: map[string]any{"employee_id": 3}})
		return err
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Verdict.SampleSize != 3 {
		t.Errorf("SampleSize = %d, want default trial count 3", res.Verdict.SampleSize)
	}
	if res.ReportURI == "" || !strings.HasSuffix(res.ReportURI, ".csv") {
		t.Errorf("report not exported: %q", res.ReportURI)
	}

	// Run closes the app; history is closed with it.
	if _, err := a.History().List(context.Background(), 10); err == nil {
		t.Error("history should be closed after Run")
	}
}

func TestRun_ReturnsOperationError(t *testing.T) {
	a, _ := demoApp(t)
	boom := errors.New("boom")
	err := a.Run(context.Background(), func(context.Context, *engine.Engine) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected operation error, got %v", err)
	}
}

func TestMetricsHandler(t *testing.T) {
	a, _ := demoApp(t)
	defer a.Close()

	ctx := context.Background()
	if _, err := a.Engine().Query(ctx, engine.QueryRequest{Filters: map[string]any{"employee_id": 1}}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	srv := httptest.NewServer(a.MetricsHandler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"polyquery_plans_total", "polyquery_schema_refresh_total", "polyquery_advisor_suggestions_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
