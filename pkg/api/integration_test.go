//go:build integration

package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/setlist/pkg/accounts"
	"github.com/platinummonkey/setlist/pkg/audit"
	"github.com/platinummonkey/setlist/pkg/config"
	"github.com/platinummonkey/setlist/pkg/membership"
	"github.com/platinummonkey/setlist/pkg/middleware"
	"github.com/platinummonkey/setlist/pkg/permissions"
	"github.com/platinummonkey/setlist/pkg/projects"
	"github.com/platinummonkey/setlist/pkg/roles"
	storagepg "github.com/platinummonkey/setlist/pkg/storage/postgres"
	"github.com/platinummonkey/setlist/pkg/tenant"
	"github.com/platinummonkey/setlist/pkg/txn"
	"github.com/platinummonkey/setlist/pkg/users"
)

// setupPostgres starts a container, applies the schema as the owner and
// returns the owner connection plus one for an unprivileged application
// role, which row level security applies to
func setupPostgres(t *testing.T) (owner *sql.DB, app *sql.DB) {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("setlist_test"),
		postgres.WithUsername("setlist"),
		postgres.WithPassword("setlist_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		// Use a fresh context, the test context may already be cancelled
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	owner, err = sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { owner.Close() })
	require.NoError(t, storagepg.Migrate(ctx, owner))

	_, err = owner.ExecContext(ctx, `
		CREATE ROLE setlist_app LOGIN PASSWORD 'app_password';
		GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO setlist_app;
		GRANT USAGE ON ALL SEQUENCES IN SCHEMA public TO setlist_app;
	`)
	require.NoError(t, err)

	u, err := url.Parse(connStr)
	require.NoError(t, err)
	u.User = url.UserPassword("setlist_app", "app_password")
	app, err = sql.Open("postgres", u.String())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	require.NoError(t, app.PingContext(ctx))

	return owner, app
}

func newIntegrationServer(t *testing.T, db *sql.DB) *Server {
	t.Helper()
	userStore := users.NewStore(db)
	ids := users.NewResolver(userStore, 100, time.Minute)
	memberships := membership.NewStore(db)
	auditLog := audit.NewDBSink(db)
	authority, err := roles.NewAuthority(config.EnvironmentLocal, roles.NewLocalStore(userStore), nil,
		roles.WithAuditSink(auditLog))
	require.NoError(t, err)

	return NewServer(Deps{
		Transactions: txn.NewManager(txn.NewSQLPool(db)),
		Identity:     middleware.NewIdentityMiddleware(middleware.NewHeaderResolver(), userStore, ids, false),
		Tenant:       tenant.NewBinder(ids, memberships, tenant.Config{Strict: true}, nil, nil),
		Authority:    authority,
		Projects:     projects.NewService(db, permissions.NewEngine(db)),
		Accounts:     accounts.NewStore(db),
		Memberships:  memberships,
		Contexts:     membership.NewContextStore(db, memberships),
		AuditLog:     auditLog,
	})
}

type client struct {
	t      *testing.T
	server *Server
	user   string
}

func (c client) do(method, path, account string, body interface{}, out interface{}) int {
	c.t.Helper()
	headers := map[string]string{"X-User-Id": c.user}
	if account != "" {
		headers["X-Account-Id"] = account
	}
	rec := doRequest(c.server, method, path, body, headers)
	if out != nil && rec.Code < 300 {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestIntegration_EndToEnd(t *testing.T) {
	owner, app := setupPostgres(t)
	server := newIntegrationServer(t, app)
	ctx := context.Background()

	u := client{t: t, server: server, user: "user_u"}
	v := client{t: t, server: server, user: "user_v"}
	w := client{t: t, server: server, user: "user_w"}

	var meU, meV map[string]interface{}
	require.Equal(t, http.StatusOK, u.do(http.MethodGet, "/api/v1/me", "", nil, &meU))
	require.Equal(t, http.StatusOK, v.do(http.MethodGet, "/api/v1/me", "", nil, &meV))
	require.Equal(t, http.StatusOK, w.do(http.MethodGet, "/api/v1/me", "", nil, nil))
	userU, userV := meU["user_id"].(string), meV["user_id"].(string)

	// U belongs to A as a member and owns B; W belongs to A only
	var acctA, acctB accounts.Account
	require.Equal(t, http.StatusCreated, w.do(http.MethodPost, "/api/v1/accounts", "", map[string]string{"name": "A"}, &acctA))
	require.Equal(t, http.StatusCreated, u.do(http.MethodPost, "/api/v1/accounts", "", map[string]string{"name": "B"}, &acctB))
	require.Equal(t, http.StatusCreated, w.do(http.MethodPost, "/api/v1/members", acctA.ID,
		map[string]string{"user_id": userU, "role": "member"}, nil))
	require.Equal(t, http.StatusCreated, u.do(http.MethodPost, "/api/v1/members", acctB.ID,
		map[string]string{"user_id": userV, "role": "member"}, nil))

	// Each account gets one project
	var projA, projP projects.Project
	require.Equal(t, http.StatusCreated, w.do(http.MethodPost, "/api/v1/projects", acctA.ID, map[string]string{"name": "in A"}, &projA))
	require.Equal(t, http.StatusCreated, u.do(http.MethodPost, "/api/v1/projects", acctB.ID, map[string]string{"name": "P"}, &projP))

	t.Run("creator holds full access", func(t *testing.T) {
		var level string
		require.NoError(t, owner.QueryRowContext(ctx,
			`SELECT level FROM project_permissions WHERE project_id = $1 AND user_id = $2`, projP.ID, userU).Scan(&level))
		assert.Equal(t, "full_access", level)
	})

	t.Run("tenant isolation", func(t *testing.T) {
		// Bound to A, B's project is invisible
		assert.Equal(t, http.StatusNotFound, u.do(http.MethodGet, "/api/v1/projects/"+projP.ID, acctA.ID, nil, nil))
		// W is not a member of B at all
		assert.Equal(t, http.StatusForbidden, w.do(http.MethodGet, "/api/v1/projects", acctB.ID, nil, nil))

		// Without a bound tenant the policy hides every project
		var n int
		require.NoError(t, app.QueryRowContext(ctx, `SELECT count(*) FROM projects`).Scan(&n))
		assert.Equal(t, 0, n)

		err := txn.RunInTx(ctx, app, func(ctx context.Context) error {
			if _, err := txn.FromContext(ctx).ExecContext(ctx, `SELECT set_config('app.current_account_id', $1, true)`, acctA.ID); err != nil {
				return err
			}
			return txn.FromContext(ctx).QueryRowContext(ctx, `SELECT count(*) FROM projects`).Scan(&n)
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("grant, use and revoke", func(t *testing.T) {
		base := "/api/v1/projects/" + projP.ID
		require.Equal(t, http.StatusOK, u.do(http.MethodPost, base+"/permissions", acctB.ID,
			map[string]string{"user_id": userV, "level": "read_write"}, nil))

		// Granting twice keeps one row
		require.Equal(t, http.StatusOK, u.do(http.MethodPost, base+"/permissions", acctB.ID,
			map[string]string{"user_id": userV, "level": "read_write"}, nil))
		var rows int
		require.NoError(t, owner.QueryRowContext(ctx,
			`SELECT count(*) FROM project_permissions WHERE project_id = $1 AND user_id = $2`, projP.ID, userV).Scan(&rows))
		assert.Equal(t, 1, rows)

		assert.Equal(t, http.StatusOK, v.do(http.MethodPatch, base, acctB.ID, map[string]string{"name": "P renamed"}, nil))
		assert.Equal(t, http.StatusForbidden, v.do(http.MethodDelete, base, acctB.ID, nil, nil))
		assert.Equal(t, http.StatusForbidden, v.do(http.MethodPost, base+"/permissions", acctB.ID,
			map[string]string{"user_id": userU, "level": "read"}, nil))

		require.Equal(t, http.StatusNoContent, u.do(http.MethodDelete, base+"/permissions/"+userV, acctB.ID, nil, nil))
		assert.Equal(t, http.StatusForbidden, v.do(http.MethodGet, base, acctB.ID, nil, nil))

		engine := permissions.NewEngine(owner)
		ok, err := engine.Check(ctx, projP.ID, userV, []permissions.Level{permissions.LevelRead, permissions.LevelReadWrite})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("failed request rolls back", func(t *testing.T) {
		// The duplicate insert aborts the transaction and nothing is kept
		var before, after int
		require.NoError(t, owner.QueryRowContext(ctx, `SELECT count(*) FROM memberships`).Scan(&before))
		assert.Equal(t, http.StatusConflict, u.do(http.MethodPost, "/api/v1/members", acctB.ID,
			map[string]string{"user_id": userV, "role": "viewer"}, nil))
		require.NoError(t, owner.QueryRowContext(ctx, `SELECT count(*) FROM memberships`).Scan(&after))
		assert.Equal(t, before, after)
	})

	t.Run("context switch guard", func(t *testing.T) {
		require.Equal(t, http.StatusOK, v.do(http.MethodPut, "/api/v1/context", "",
			map[string]interface{}{"account_id": acctB.ID, "data": map[string]string{"theme": "dark"}}, nil))
		assert.Equal(t, http.StatusForbidden, v.do(http.MethodPut, "/api/v1/context", "",
			map[string]string{"account_id": acctA.ID}, nil))

		var uc membership.UserContext
		require.Equal(t, http.StatusOK, v.do(http.MethodGet, "/api/v1/context", "", nil, &uc))
		require.NotNil(t, uc.CurrentAccountID)
		assert.Equal(t, acctB.ID, *uc.CurrentAccountID)
		assert.Equal(t, "dark", uc.Data["theme"])
	})

	t.Run("role change and history", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, v.do(http.MethodPut, "/api/v1/users/user_w/role", "",
			map[string]string{"role": "support"}, nil))

		_, err := owner.ExecContext(ctx, `UPDATE users SET role = 'super_admin' WHERE external_id = 'user_u'`)
		require.NoError(t, err)

		require.Equal(t, http.StatusOK, u.do(http.MethodPut, "/api/v1/users/user_v/role", "",
			map[string]string{"role": "admin", "reason": "on call"}, nil))

		var role string
		require.NoError(t, owner.QueryRowContext(ctx, `SELECT role FROM users WHERE external_id = 'user_v'`).Scan(&role))
		assert.Equal(t, "admin", role)

		var history []audit.RoleAuditEvent
		require.Equal(t, http.StatusOK, u.do(http.MethodGet, "/api/v1/users/user_v/role/history", "", nil, &history))
		require.Len(t, history, 1)
		assert.Equal(t, "user", history[0].OldRole)
		assert.Equal(t, "admin", history[0].NewRole)
		assert.Equal(t, "on call", history[0].Reason)
	})

	t.Run("owner deletes project", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, u.do(http.MethodDelete, "/api/v1/projects/"+projP.ID, acctB.ID, nil, nil))
		var n int
		require.NoError(t, owner.QueryRowContext(ctx,
			`SELECT count(*) FROM project_permissions WHERE project_id = $1`, projP.ID).Scan(&n))
		assert.Equal(t, 0, n)
	})
}
