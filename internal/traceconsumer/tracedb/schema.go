package tracedb

import "fmt"

// SchemaDDL returns the DDL for all trace tables in the given schema. Production
// databases are provisioned externally; this is used to set up test databases and
// documents the layout Store writes to.
func SchemaDDL(schema string) string {
	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE %[1]s.instructors (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE %[1]s.courses (
	id                 BIGSERIAL PRIMARY KEY,
	course_id          TEXT NOT NULL,
	course_name        TEXT NOT NULL,
	subject            TEXT NOT NULL,
	catalog_section    TEXT NOT NULL,
	semester           TEXT NOT NULL,
	year               INT NOT NULL,
	enrollment         INT NOT NULL,
	responses          INT NOT NULL,
	declines           INT NOT NULL,
	processed_at       TIMESTAMPTZ NOT NULL,
	original_file_name TEXT NOT NULL,
	gcs_bucket         TEXT NOT NULL,
	gcs_path           TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (course_id, semester, year)
);

CREATE TABLE %[1]s.course_instructors (
	course_id     BIGINT NOT NULL REFERENCES %[1]s.courses (id),
	instructor_id BIGINT NOT NULL REFERENCES %[1]s.instructors (id),
	UNIQUE (course_id, instructor_id)
);

CREATE TABLE %[1]s.ratings (
	id            BIGSERIAL PRIMARY KEY,
	course_id     BIGINT NOT NULL REFERENCES %[1]s.courses (id),
	question_text TEXT NOT NULL,
	category      TEXT NOT NULL,
	responses     INT NOT NULL,
	response_rate DOUBLE PRECISION NOT NULL,
	course_mean   DOUBLE PRECISION NOT NULL,
	dept_mean     DOUBLE PRECISION NOT NULL,
	univ_mean     DOUBLE PRECISION NOT NULL,
	course_median DOUBLE PRECISION NOT NULL,
	dept_median   DOUBLE PRECISION NOT NULL,
	univ_median   DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE %[1]s.comments (
	id              BIGSERIAL PRIMARY KEY,
	course_id       BIGINT NOT NULL REFERENCES %[1]s.courses (id),
	category        TEXT NOT NULL,
	question_text   TEXT NOT NULL,
	response_number INT NOT NULL,
	comment_text    TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE %[1]s.processed_traces (
	id            BIGSERIAL PRIMARY KEY,
	trace_id      TEXT NOT NULL UNIQUE,
	course_id     BIGINT REFERENCES %[1]s.courses (id),
	processed_at  TIMESTAMPTZ NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`, schema)
}
