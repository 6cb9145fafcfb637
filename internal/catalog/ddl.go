// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package catalog

import "stopgap/pkg/migrations"

// step is one idempotent, ordered bootstrap statement group. Every step is
// guarded with IF NOT EXISTS/CREATE OR REPLACE so Apply is safe to rerun.
type step struct {
	id          migrations.MigrationID
	description string
	sql         string
}

// steps is the fixed, ordered catalog bootstrap sequence: the plts schema and
// artifact table, the stopgap schema and its tables, the views, the roles,
// then ownership. Ported from
// sql_bootstrap.rs and the extension_sql! block in plts's lib.rs; the
// CREATE LANGUAGE plts / plts_call_handler C-ABI registration has no
// counterpart here since stopgap runs as a standalone service rather than a
// loadable Postgres extension (see internal/handler).
var steps = []step{
	{
		id:          "001_plts_schema",
		description: "create plts schema and artifact table",
		sql: `
			CREATE SCHEMA IF NOT EXISTS plts;

			CREATE TABLE IF NOT EXISTS plts.artifact (
				artifact_hash text PRIMARY KEY,
				source_ts text NOT NULL,
				compiled_js text NOT NULL,
				compiler_opts jsonb NOT NULL,
				compiler_fingerprint text NOT NULL,
				created_at timestamptz NOT NULL DEFAULT now(),
				source_map text,
				diagnostics jsonb
			);
		`,
	},
	{
		id:          "002_stopgap_schema",
		description: "create stopgap schema and core tables",
		sql: `
			CREATE SCHEMA IF NOT EXISTS stopgap;

			CREATE TABLE IF NOT EXISTS stopgap.environment (
				env text PRIMARY KEY,
				live_schema name NOT NULL,
				active_deployment_id bigint,
				updated_at timestamptz NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS stopgap.deployment (
				id bigserial PRIMARY KEY,
				env text NOT NULL REFERENCES stopgap.environment(env),
				label text,
				created_at timestamptz NOT NULL DEFAULT now(),
				created_by name NOT NULL DEFAULT current_user,
				source_schema name NOT NULL,
				status text NOT NULL,
				manifest jsonb NOT NULL
			);

			CREATE TABLE IF NOT EXISTS stopgap.fn_version (
				deployment_id bigint NOT NULL REFERENCES stopgap.deployment(id),
				fn_name name NOT NULL,
				fn_schema name NOT NULL,
				live_fn_schema name NOT NULL,
				kind text NOT NULL,
				artifact_hash text NOT NULL,
				PRIMARY KEY (deployment_id, fn_schema, fn_name)
			);

			CREATE TABLE IF NOT EXISTS stopgap.activation_log (
				id bigserial PRIMARY KEY,
				env text NOT NULL,
				from_deployment_id bigint,
				to_deployment_id bigint NOT NULL,
				activated_at timestamptz NOT NULL DEFAULT now(),
				activated_by name NOT NULL DEFAULT current_user
			);
		`,
	},
	{
		id:          "003_stopgap_views",
		description: "create audit/overview views",
		sql: `
			CREATE OR REPLACE VIEW stopgap.activation_audit AS
			SELECT l.id AS activation_id,
			       l.env,
			       l.from_deployment_id,
			       l.to_deployment_id,
			       l.activated_at,
			       l.activated_by,
			       d.status AS to_status,
			       d.label AS to_label,
			       d.source_schema AS to_source_schema,
			       d.created_at AS to_created_at,
			       d.created_by AS to_created_by
			FROM stopgap.activation_log l
			JOIN stopgap.deployment d ON d.id = l.to_deployment_id;

			CREATE OR REPLACE VIEW stopgap.environment_overview AS
			SELECT e.env,
			       e.live_schema,
			       e.active_deployment_id,
			       e.updated_at,
			       d.status AS active_status,
			       d.label AS active_label,
			       d.created_at AS active_created_at,
			       d.created_by AS active_created_by
			FROM stopgap.environment e
			LEFT JOIN stopgap.deployment d ON d.id = e.active_deployment_id;
		`,
	},
	{
		id:          "004_security_roles",
		description: "create stopgap_owner/stopgap_deployer/app_user roles",
		sql: `
			DO $$
			BEGIN
				IF COALESCE(
					(SELECT r.rolsuper OR r.rolcreaterole FROM pg_roles r WHERE r.rolname = current_user),
					false
				) THEN
					IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'stopgap_owner') THEN
						CREATE ROLE stopgap_owner NOLOGIN;
					END IF;

					IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'stopgap_deployer') THEN
						CREATE ROLE stopgap_deployer NOLOGIN;
					END IF;

					IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'app_user') THEN
						CREATE ROLE app_user NOLOGIN;
					END IF;

					IF NOT pg_has_role(current_user, 'stopgap_owner', 'MEMBER') THEN
						EXECUTE format('GRANT %I TO %I', 'stopgap_owner', current_user);
					END IF;
				END IF;
			END;
			$$;

			REVOKE CREATE ON SCHEMA stopgap FROM PUBLIC;
			GRANT USAGE ON SCHEMA stopgap TO stopgap_deployer;
		`,
	},
	{
		id:          "005_security_ownership",
		description: "transfer stopgap schema ownership to stopgap_owner",
		sql: `
			DO $$
			BEGIN
				IF EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'stopgap_owner') THEN
					EXECUTE format('ALTER SCHEMA stopgap OWNER TO %I', 'stopgap_owner');
				END IF;
			END;
			$$;
		`,
	},
}
