package store

// Schema creates the test run tables. Timestamps are RFC 3339 UTC strings;
// metadata, messages and usage are JSON documents.
const Schema = `
CREATE TABLE IF NOT EXISTS test_runs (
    id                     TEXT PRIMARY KEY,
    test_name              TEXT NOT NULL,
    prompt_slug            TEXT NOT NULL,
    version_number         INTEGER NOT NULL,
    dataset_row_id         TEXT NOT NULL DEFAULT '',
    status                 TEXT NOT NULL DEFAULT 'pending'
                           CHECK(status IN ('pending', 'running', 'passed', 'failed', 'error')),
    passed                 INTEGER NULL,
    score                  REAL NULL,
    error_message          TEXT NOT NULL DEFAULT '',
    metadata               TEXT NOT NULL DEFAULT '{}',
    messages               TEXT NOT NULL DEFAULT '[]',
    rendered_system_prompt TEXT NOT NULL DEFAULT '',
    rendered_user_prompt   TEXT NOT NULL DEFAULT '',
    usage                  TEXT NOT NULL DEFAULT '{}',
    model                  TEXT NOT NULL DEFAULT '',
    provider               TEXT NOT NULL DEFAULT '',
    execution_time_ms      INTEGER NOT NULL DEFAULT 0,
    created_at             TEXT NOT NULL,
    completed_at           TEXT NULL
);

CREATE TABLE IF NOT EXISTS evaluations (
    id            TEXT PRIMARY KEY,
    test_run_id   TEXT NOT NULL REFERENCES test_runs(id) ON DELETE CASCADE,
    evaluator_key TEXT NOT NULL,
    score         REAL NOT NULL,
    passed        INTEGER NOT NULL,
    feedback      TEXT NOT NULL DEFAULT '',
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_test_runs_test ON test_runs(test_name, created_at);
CREATE INDEX IF NOT EXISTS idx_test_runs_status ON test_runs(status);
CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations(test_run_id);
`
