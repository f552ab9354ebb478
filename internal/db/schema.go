package db

// Schema is the PostgreSQL schema. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS portal_credentials (
    user_id       UUID PRIMARY KEY,
    identity      TEXT NOT NULL,
    sealed_secret BYTEA NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_profiles (
    user_id    UUID PRIMARY KEY,
    profile    JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS saved_filters (
    user_id          UUID PRIMARY KEY,
    final_search_url TEXT NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS job_outcomes (
    id                 BIGSERIAL PRIMARY KEY,
    user_id            UUID NOT NULL,
    run_id             UUID NOT NULL,
    page_number        INT NOT NULL,
    index_on_page      INT NOT NULL,
    listing_url        TEXT NOT NULL,
    match_signals      JSONB NOT NULL,
    match_score        INT NOT NULL,
    match_decision     TEXT NOT NULL,
    apply_path         TEXT NOT NULL,
    status             TEXT NOT NULL,
    reason             TEXT NOT NULL DEFAULT '',
    questions_answered INT NOT NULL DEFAULT 0,
    job_metadata       JSONB NOT NULL,
    recorded_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, listing_url)
);

CREATE INDEX IF NOT EXISTS idx_job_outcomes_user_recorded ON job_outcomes (user_id, recorded_at DESC);

CREATE TABLE IF NOT EXISTS automation_runs (
    id          UUID PRIMARY KEY,
    user_id     UUID NOT NULL,
    state       TEXT NOT NULL,
    summary     JSONB NOT NULL DEFAULT '{}'::jsonb,
    error       TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_automation_runs_user_started ON automation_runs (user_id, started_at DESC);

CREATE TABLE IF NOT EXISTS schedule_entries (
    id          BIGSERIAL PRIMARY KEY,
    user_id     UUID NOT NULL,
    next_run_at TIMESTAMPTZ NOT NULL,
    status      TEXT NOT NULL DEFAULT 'pending',
    cron        TEXT NOT NULL DEFAULT '',
    max_pages   INT NOT NULL DEFAULT 0,
    last_error  TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_schedule_entries_due ON schedule_entries (status, next_run_at);
`
