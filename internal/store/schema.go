package store

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS goals (
	id                    TEXT PRIMARY KEY,
	kind                  TEXT NOT NULL,
	description           TEXT NOT NULL DEFAULT '',
	rationale             TEXT NOT NULL DEFAULT '',
	estimated_budget_usd  TEXT NOT NULL DEFAULT '0',
	estimated_duration_h  REAL NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'identified',
	impact_score          REAL NOT NULL DEFAULT 0,
	source_tag            TEXT NOT NULL DEFAULT '',
	metadata              TEXT NOT NULL DEFAULT '{}',
	identified_at         DATETIME NOT NULL,
	approved_at           DATETIME,
	approved_by           TEXT NOT NULL DEFAULT '',
	approval_notes        TEXT NOT NULL DEFAULT '',
	effectiveness_score   REAL,
	outcome_measured_at   DATETIME,
	learn_from            INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status);

CREATE TABLE IF NOT EXISTS projects (
	id                    TEXT PRIMARY KEY,
	goal_id               TEXT NOT NULL UNIQUE REFERENCES goals(id),
	title                 TEXT NOT NULL DEFAULT '',
	description           TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'proposed',
	budget_allocated_usd  TEXT NOT NULL DEFAULT '0',
	budget_spent_usd      TEXT NOT NULL DEFAULT '0',
	actual_duration_h     REAL,
	created_at            DATETIME NOT NULL,
	completed_at          DATETIME
);

CREATE TABLE IF NOT EXISTS tasks (
	id                    TEXT PRIMARY KEY,
	project_id            TEXT NOT NULL REFERENCES projects(id),
	kind                  TEXT NOT NULL,
	title                 TEXT NOT NULL DEFAULT '',
	priority              TEXT NOT NULL DEFAULT 'medium',
	status                TEXT NOT NULL DEFAULT 'pending',
	budget_allocated_usd  TEXT NOT NULL DEFAULT '0',
	result                TEXT NOT NULL DEFAULT '{}',
	error                 TEXT NOT NULL DEFAULT '{}',
	metadata              TEXT NOT NULL DEFAULT '{}',
	attempts              INTEGER NOT NULL DEFAULT 0,
	max_attempts          INTEGER NOT NULL DEFAULT 3,
	next_attempt_at       DATETIME,
	created_at            DATETIME NOT NULL,
	started_at            DATETIME,
	finished_at           DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id               TEXT NOT NULL REFERENCES tasks(id),
	depends_on_task_id    TEXT NOT NULL REFERENCES tasks(id),
	PRIMARY KEY (task_id, depends_on_task_id)
);

CREATE TABLE IF NOT EXISTS budget_ledger (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	ts                    DATETIME NOT NULL,
	project_id            TEXT,
	task_id               TEXT,
	amount_usd            TEXT NOT NULL,
	reason                TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_ledger_ts ON budget_ledger(ts);
CREATE INDEX IF NOT EXISTS idx_ledger_project ON budget_ledger(project_id);

CREATE TABLE IF NOT EXISTS goal_outcomes (
	goal_id               TEXT PRIMARY KEY REFERENCES goals(id),
	baseline_date         DATETIME NOT NULL,
	measurement_date      DATETIME NOT NULL,
	baseline_metrics      TEXT NOT NULL DEFAULT '{}',
	outcome_metrics       TEXT NOT NULL DEFAULT '{}',
	impact_score          REAL NOT NULL DEFAULT 0,
	roi_score             REAL NOT NULL DEFAULT 0,
	adoption_score        REAL NOT NULL DEFAULT 0,
	quality_score         REAL NOT NULL DEFAULT 0,
	effectiveness_score   REAL NOT NULL DEFAULT 0,
	measurement_method    TEXT NOT NULL DEFAULT '',
	notes                 TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_events (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	ts                    DATETIME NOT NULL,
	actor                 TEXT NOT NULL DEFAULT '',
	event_kind            TEXT NOT NULL,
	subject_id            TEXT NOT NULL DEFAULT '',
	payload               TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS operational_events (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	ts                    DATETIME NOT NULL,
	kind                  TEXT NOT NULL,
	reason                TEXT NOT NULL DEFAULT '',
	tier                  TEXT NOT NULL DEFAULT '',
	cost_usd              TEXT NOT NULL DEFAULT '0',
	payload               TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_operational_events_kind_ts ON operational_events(kind, ts);

CREATE TABLE IF NOT EXISTS knowledge_entries (
	category              TEXT NOT NULL,
	slug                  TEXT NOT NULL,
	path                  TEXT NOT NULL DEFAULT '',
	views                 INTEGER NOT NULL DEFAULT 0,
	refs                  INTEGER NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL,
	PRIMARY KEY (category, slug)
);
`
