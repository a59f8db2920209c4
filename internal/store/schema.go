package store

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	current_phase TEXT NOT NULL DEFAULT '',
	progress INTEGER NOT NULL DEFAULT 0,
	source_archive TEXT NOT NULL DEFAULT '',
	output_archive TEXT NOT NULL DEFAULT '',
	files_processed INTEGER NOT NULL DEFAULT 0,
	duplicates_found INTEGER NOT NULL DEFAULT 0,
	shortcuts_created INTEGER NOT NULL DEFAULT 0,
	version_chains_found INTEGER NOT NULL DEFAULT 0,
	files_renamed INTEGER NOT NULL DEFAULT 0,
	files_moved INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS document_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	file_id TEXT NOT NULL,
	current_name TEXT NOT NULL,
	current_path TEXT NOT NULL,
	extension TEXT NOT NULL DEFAULT '',
	file_size INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	source_mtime INTEGER NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT '',
	document_type TEXT NOT NULL DEFAULT '',
	key_topics TEXT NOT NULL DEFAULT '[]',
	proposed_name TEXT,
	proposed_path TEXT,
	proposed_tags TEXT NOT NULL DEFAULT '[]',
	reasoning TEXT NOT NULL DEFAULT '',
	final_name TEXT NOT NULL DEFAULT '',
	final_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'discovered',
	error_message TEXT NOT NULL DEFAULT '',
	changes_applied INTEGER NOT NULL DEFAULT 0,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	UNIQUE(job_id, file_id)
);
CREATE INDEX IF NOT EXISTS idx_items_job ON document_items(job_id);
CREATE INDEX IF NOT EXISTS idx_items_hash ON document_items(job_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_items_status ON document_items(job_id, status);

CREATE TABLE IF NOT EXISTS duplicate_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	content_hash TEXT NOT NULL,
	file_count INTEGER NOT NULL,
	total_size INTEGER NOT NULL,
	primary_document_id INTEGER NOT NULL REFERENCES document_items(id),
	decision_reasoning TEXT NOT NULL DEFAULT '',
	decided_by TEXT NOT NULL DEFAULT 'auto',
	UNIQUE(job_id, content_hash)
);

CREATE TABLE IF NOT EXISTS duplicate_members (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL REFERENCES duplicate_groups(id) ON DELETE CASCADE,
	document_id INTEGER NOT NULL REFERENCES document_items(id),
	is_primary INTEGER NOT NULL DEFAULT 0,
	action TEXT NOT NULL,
	action_reasoning TEXT NOT NULL DEFAULT '',
	shortcut_target_path TEXT NOT NULL DEFAULT '',
	UNIQUE(group_id, document_id)
);
CREATE INDEX IF NOT EXISTS idx_dup_members_doc ON duplicate_members(document_id);

CREATE TABLE IF NOT EXISTS version_chains (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	chain_name TEXT NOT NULL,
	base_path TEXT NOT NULL,
	current_document_id INTEGER NOT NULL REFERENCES document_items(id),
	current_version_number INTEGER NOT NULL DEFAULT 1,
	detection_method TEXT NOT NULL,
	detection_confidence REAL NOT NULL DEFAULT 0,
	llm_reasoning TEXT NOT NULL DEFAULT '',
	version_order_confirmed INTEGER NOT NULL DEFAULT 0,
	archive_strategy TEXT NOT NULL DEFAULT 'subfolder',
	archive_path TEXT NOT NULL DEFAULT '',
	UNIQUE(job_id, chain_name, base_path)
);

CREATE TABLE IF NOT EXISTS version_chain_members (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chain_id INTEGER NOT NULL REFERENCES version_chains(id) ON DELETE CASCADE,
	document_id INTEGER NOT NULL REFERENCES document_items(id),
	version_number INTEGER NOT NULL,
	version_label TEXT NOT NULL DEFAULT '',
	version_date INTEGER,
	is_current INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'superseded',
	proposed_version_name TEXT NOT NULL DEFAULT '',
	proposed_version_path TEXT NOT NULL DEFAULT '',
	UNIQUE(chain_id, version_number),
	UNIQUE(chain_id, document_id)
);
CREATE INDEX IF NOT EXISTS idx_chain_members_doc ON version_chain_members(document_id);

CREATE TABLE IF NOT EXISTS naming_schemas (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	batch_id TEXT NOT NULL,
	document_type TEXT NOT NULL,
	naming_pattern TEXT NOT NULL,
	example TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	placeholders TEXT NOT NULL DEFAULT '{}',
	schema_version INTEGER NOT NULL DEFAULT 1,
	UNIQUE(job_id, batch_id, document_type)
);

CREATE TABLE IF NOT EXISTS tag_taxonomy (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	batch_id TEXT NOT NULL,
	tag_name TEXT NOT NULL,
	parent_tag TEXT,
	description TEXT NOT NULL DEFAULT '',
	usage_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE(job_id, batch_id, tag_name)
);

CREATE TABLE IF NOT EXISTS directory_structure (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	batch_id TEXT NOT NULL,
	path TEXT NOT NULL,
	folder_name TEXT NOT NULL,
	parent_path TEXT NOT NULL DEFAULT '',
	depth INTEGER NOT NULL,
	purpose TEXT NOT NULL DEFAULT '',
	expected_tags TEXT NOT NULL DEFAULT '[]',
	expected_document_types TEXT NOT NULL DEFAULT '[]',
	UNIQUE(job_id, batch_id, path)
);

CREATE TABLE IF NOT EXISTS shortcut_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	document_id INTEGER NOT NULL REFERENCES document_items(id),
	shortcut_path TEXT NOT NULL,
	target_path TEXT NOT NULL,
	shortcut_type TEXT NOT NULL,
	original_path TEXT NOT NULL DEFAULT '',
	original_hash TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_shortcuts_job ON shortcut_records(job_id);

CREATE TABLE IF NOT EXISTS execution_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	operation TEXT NOT NULL,
	source_path TEXT NOT NULL DEFAULT '',
	target_path TEXT NOT NULL DEFAULT '',
	document_id INTEGER,
	success INTEGER NOT NULL DEFAULT 1,
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms REAL NOT NULL DEFAULT 0,
	executed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exec_log_job ON execution_log(job_id);
`
