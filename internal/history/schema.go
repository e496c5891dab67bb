package history

// CreateRunsTableSQL creates the benchmark runs table. Verdicts are stored
// as JSON; raw samples are snappy-compressed JSON since they dominate the
// row size.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    filters_json TEXT NOT NULL,
    trials INTEGER NOT NULL,
    naive_plan_id TEXT NOT NULL,
    optimized_plan_id TEXT NOT NULL,
    speedup REAL,
    degraded INTEGER NOT NULL DEFAULT 0,
    incomplete INTEGER NOT NULL DEFAULT 0,
    verdict_json TEXT NOT NULL,
    samples_blob BLOB NOT NULL
)`

// CreateRunsIndexesSQL creates indexes for listing runs.
var CreateRunsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_optimized_plan ON runs(optimized_plan_id)`,
}
