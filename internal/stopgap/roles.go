// SPDX-License-Identifier: AGPL-3.0-or-later

package stopgap

import (
	"context"
	"database/sql"
	"fmt"

	"stopgap/internal/stopgaperr"
)

// Role names the bootstrap catalog creates (see internal/catalog/ddl.go's
// "004_security_roles" step). The release controller checks membership and
// schema privileges against these exact names, matching security.rs.
const (
	OwnerRole    = "stopgap_owner"
	DeployerRole = "stopgap_deployer"
	RuntimeRole  = "app_user"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting every helper in
// this package run either standalone or inside the transaction a deploy or
// rollback wraps its advisory lock and state changes in.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func ensureRequiredRoleExists(ctx context.Context, q querier, roleName string) error {
	var exists bool
	if err := q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", roleName,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check role %s existence: %w", roleName, err)
	}
	if !exists {
		return fmt.Errorf("stopgap security model requires role %s to exist; run catalog bootstrap as a role that can create required roles", roleName)
	}
	return nil
}

// ensureRoleMembership requires session_user to be a member of requiredRole,
// porting security.rs's ensure_role_membership.
func ensureRoleMembership(ctx context.Context, q querier, requiredRole, operation string) error {
	if err := ensureRequiredRoleExists(ctx, q, requiredRole); err != nil {
		return err
	}

	var member bool
	err := q.QueryRowContext(ctx,
		"SELECT pg_has_role(session_user, oid, 'MEMBER') FROM pg_roles WHERE rolname = $1",
		requiredRole,
	).Scan(&member)
	if err != nil {
		return fmt.Errorf("failed to check %s role membership: %w", requiredRole, err)
	}
	if !member {
		return &stopgaperr.PermissionError{Operation: operation, Detail: fmt.Sprintf("session_user must be a member of role %s", requiredRole)}
	}
	return nil
}

func ensureSchemaUsage(ctx context.Context, q querier, schema, operation string) error {
	var canUse bool
	err := q.QueryRowContext(ctx,
		"SELECT has_schema_privilege(session_user, $1, 'USAGE')", schema,
	).Scan(&canUse)
	if err != nil {
		return fmt.Errorf("failed to check source schema privileges: %w", err)
	}
	if !canUse {
		return &stopgaperr.PermissionError{Operation: operation, Detail: fmt.Sprintf("session_user lacks USAGE on source schema %s", schema)}
	}
	return nil
}

// ensureDeployPermissions ports security.rs's ensure_deploy_permissions.
func ensureDeployPermissions(ctx context.Context, q querier, fromSchema string) error {
	for _, role := range []string{OwnerRole, DeployerRole, RuntimeRole} {
		if err := ensureRequiredRoleExists(ctx, q, role); err != nil {
			return err
		}
	}
	return ensureSchemaUsage(ctx, q, fromSchema, "stopgap deploy")
}

// ensureDiffPermissions ports security.rs's ensure_diff_permissions.
func ensureDiffPermissions(ctx context.Context, q querier, fromSchema string) error {
	if err := ensureRequiredRoleExists(ctx, q, DeployerRole); err != nil {
		return err
	}
	return ensureSchemaUsage(ctx, q, fromSchema, "stopgap diff")
}
