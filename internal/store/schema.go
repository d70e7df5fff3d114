package store

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	course_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	settings_json TEXT NOT NULL,
	release_at INTEGER,
	close_at INTEGER,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	require_coursework INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	question_json TEXT NOT NULL,
	PRIMARY KEY (exam_id, id)
);

CREATE TABLE IF NOT EXISTS attempts (
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL,
	status TEXT NOT NULL,
	answers_json TEXT NOT NULL DEFAULT '{}',
	scores_json TEXT NOT NULL DEFAULT '{}',
	needs_manual INTEGER NOT NULL DEFAULT 0,
	teacher_override INTEGER NOT NULL DEFAULT 0,
	graded_by TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	submitted_at INTEGER,
	graded_at INTEGER,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (exam_id, student_id)
);

CREATE INDEX IF NOT EXISTS attempts_status_idx ON attempts (status);

CREATE TABLE IF NOT EXISTS ai_reports (
	exam_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	report_json TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (exam_id, student_id)
);

CREATE TABLE IF NOT EXISTS coursework (
	student_id TEXT NOT NULL,
	course_id TEXT NOT NULL,
	status TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (student_id, course_id)
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	lang TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS grades (
	id TEXT PRIMARY KEY,
	student_id TEXT NOT NULL,
	course_id TEXT NOT NULL DEFAULT '',
	exam_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	score REAL NOT NULL DEFAULT 0,
	max_score REAL NOT NULL DEFAULT 0,
	comment TEXT NOT NULL DEFAULT '',
	email_sent INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS grades_student_exam_idx ON grades (student_id, exam_id);

CREATE TABLE IF NOT EXISTS mail (
	id TEXT PRIMARY KEY,
	to_addr TEXT NOT NULL,
	subject TEXT NOT NULL,
	text_body TEXT NOT NULL,
	html_body TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS event_log (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	typ TEXT NOT NULL,
	key TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	done INTEGER NOT NULL DEFAULT 0,
	deliveries INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS event_log_pending_idx ON event_log (done, seq);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	course_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	settings_json TEXT NOT NULL,
	release_at BIGINT,
	close_at BIGINT,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	require_coursework INTEGER NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	question_json TEXT NOT NULL,
	PRIMARY KEY (exam_id, id)
);

CREATE TABLE IF NOT EXISTS attempts (
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL,
	status TEXT NOT NULL,
	answers_json TEXT NOT NULL DEFAULT '{}',
	scores_json TEXT NOT NULL DEFAULT '{}',
	needs_manual INTEGER NOT NULL DEFAULT 0,
	teacher_override INTEGER NOT NULL DEFAULT 0,
	graded_by TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	submitted_at BIGINT,
	graded_at BIGINT,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (exam_id, student_id)
);

CREATE INDEX IF NOT EXISTS attempts_status_idx ON attempts (status);

CREATE TABLE IF NOT EXISTS ai_reports (
	exam_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	report_json TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	PRIMARY KEY (exam_id, student_id)
);

CREATE TABLE IF NOT EXISTS coursework (
	student_id TEXT NOT NULL,
	course_id TEXT NOT NULL,
	status TEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (student_id, course_id)
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	lang TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS grades (
	id TEXT PRIMARY KEY,
	student_id TEXT NOT NULL,
	course_id TEXT NOT NULL DEFAULT '',
	exam_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	score DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	comment TEXT NOT NULL DEFAULT '',
	email_sent INTEGER NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS grades_student_exam_idx ON grades (student_id, exam_id);

CREATE TABLE IF NOT EXISTS mail (
	id TEXT PRIMARY KEY,
	to_addr TEXT NOT NULL,
	subject TEXT NOT NULL,
	text_body TEXT NOT NULL,
	html_body TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_log (
	seq BIGSERIAL PRIMARY KEY,
	typ TEXT NOT NULL,
	key TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	done INTEGER NOT NULL DEFAULT 0,
	deliveries INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS event_log_pending_idx ON event_log (done, seq);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
