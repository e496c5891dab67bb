package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/polyquery/polyquery/pkg/types"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestParseFilters(t *testing.T) {
	got, err := parseFilters([]string{"employee_id=7", "payment_method = cash", "note=a=b"})
	if err != nil {
		t.Fatalf("parseFilters failed: %v", err)
	}
	if got["employee_id"] != "7" || got["payment_method"] != " cash" || got["note"] != "a=b" {
		t.Errorf("unexpected filters: %#v", got)
	}

	for _, bad := range [][]string{{"novalue"}, {"=7"}, {"a=1", "a=2"}} {
		if _, err := parseFilters(bad); err == nil {
			t.Errorf("parseFilters(%v) should fail", bad)
		}
	}
}

func TestParseOrderBy(t *testing.T) {
	got, err := parseOrderBy([]string{"timestamp:desc", "employee_id", "name:ASC"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || !got[0].Desc || got[1].Desc || got[2].Desc || got[2].Field != "name" {
		t.Errorf("unexpected clauses: %+v", got)
	}
	if _, err := parseOrderBy([]string{"x:sideways"}); err == nil {
		t.Error("invalid direction should fail")
	}
}

func TestParseModes(t *testing.T) {
	if m, _ := parseModes("both"); len(m) != 2 {
		t.Errorf("both = %v", m)
	}
	if m, _ := parseModes("naive"); len(m) != 1 || m[0] != types.ModeNaive {
		t.Errorf("naive = %v", m)
	}
	if _, err := parseModes("fast"); err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestPlanCommand_Demo(t *testing.T) {
	out, err := runCmd(t, "--demo", "plan", "-f", "employee_id=7")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	var sets map[types.Mode]*types.PlanSet
	if err := json.Unmarshal([]byte(out), &sets); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if sets[types.ModeOptimized].Plans[0].AccessPath != types.AccessDirectLookup {
		t.Errorf("optimized plan should be a direct lookup: %+v", sets[types.ModeOptimized].Plans[0])
	}
	if sets[types.ModeNaive].Plans[0].AccessPath != types.AccessSecondaryScan {
		t.Errorf("naive plan should scan: %+v", sets[types.ModeNaive].Plans[0])
	}
}

func TestQueryCommand_UnresolvableField(t *testing.T) {
	_, err := runCmd(t, "--demo", "query", "-f", "loyalty_tier=gold")
	if err == nil || !strings.Contains(err.Error(), "loyalty_tier") {
		t.Errorf("expected error naming the field, got %v", err)
	}
}

func TestBenchmarkAndHistory_Demo(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	out, err := runCmd(t, "--demo", "--history", dbPath, "benchmark", "-f", "employee_id=3", "-n", "2")
	if err != nil {
		t.Fatalf("benchmark failed: %v", err)
	}
	var res struct {
		RunID   string `json:"run_id"`
		Verdict struct {
			SampleSize int `json:"sample_size"`
		} `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if res.RunID == "" || res.Verdict.SampleSize != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	out, err = runCmd(t, "--history", dbPath, "history", "list")
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	if !strings.Contains(out, res.RunID) {
		t.Errorf("history list should include run %s", res.RunID)
	}

	out, err = runCmd(t, "--history", dbPath, "history", "export", res.RunID, "--format", "csv", "--stdout")
	if err != nil {
		t.Fatalf("history export failed: %v", err)
	}
	if !strings.HasPrefix(out, "approach,trial,elapsed_ms,rows,succeeded\n") {
		t.Errorf("unexpected CSV:\n%s", out)
	}
}

func TestInsightsCommand_Demo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.yaml")
	var b strings.Builder
	for i := 0; i < 12; i++ {
		b.WriteString("- {total_amount: 12.5}\n")
	}
	b.WriteString("- {loyalty_tier: gold}\n")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "--demo", "insights", "-w", path)
	if err != nil {
		t.Fatalf("insights failed: %v", err)
	}
	var v insightsView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if v.Planned != 12 || v.Failed != 1 {
		t.Errorf("planned=%d failed=%d", v.Planned, v.Failed)
	}
	if len(v.Suggestions) == 0 || v.Suggestions[0].Field != "total_amount" {
		t.Errorf("expected a total_amount suggestion: %+v", v.Suggestions)
	}
}
