package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

func TestWhereBuildsPositionalArgs(t *testing.T) {
	var w where
	require.Empty(t, w.String())
	w.add("symbol = $%d", "PERP_BTC_USDT")
	w.add("code = $%d", "O")
	require.Equal(t, " WHERE symbol = $1 AND code = $2", w.String())
	require.Equal(t, " LIMIT $3 OFFSET $4", w.page(10, 5))
	require.Equal(t, []any{"PERP_BTC_USDT", "O", 10, 5}, w.args)
}

func TestDSN(t *testing.T) {
	require.Equal(t, "postgres://u:p@db:5432/wooxbot?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "wooxbot"}))
	require.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	require.Equal(t, "postgres://bot:p%40ss%2Fw@db:6543/ledger?sslmode=require",
		DSN(ClientConfig{User: "bot", Password: "p@ss/w", Host: "db", Port: 6543, Database: "ledger", SSLMode: "require"}))
}

func TestMigrationFilesAreOrdered(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.Equal(t, []string{"001_init.sql", "002_append_only.sql"}, files)
}

// startPostgres runs a throwaway Postgres 16 container. It is opt-in because
// it needs a Docker daemon.
func startPostgres(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("WOOXBOT_PG_IT") != "1" {
		t.Skip("set WOOXBOT_PG_IT=1 to run Postgres integration tests")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "wooxbot"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/wooxbot?sslmode=disable", host, port.Port())
	var client *Client
	require.Eventually(t, func() bool {
		client, err = New(ctx, ClientConfig{DSN: dsn})
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	require.NoError(t, client.RunMigrations(ctx), "migrations are idempotent")
	return client
}

func TestLedgerStoreIntegration(t *testing.T) {
	client := startPostgres(t)
	ctx := context.Background()
	store := NewLedgerStore(client.Pool())
	t0 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	open := domain.NewTransaction("TRADER", "PERP_BTC_USDT", domain.SignalNameMACross, domain.TradeBuy, 0.5, 100,
		domain.TxOpen, domain.FillInfo{Commission: 0.1, FilledAt: t0})
	closeTx := domain.NewTransaction("TRADER", "PERP_BTC_USDT", domain.SignalNameTakeProfit, domain.TradeSell, 0.5, 104,
		domain.TxClose, domain.FillInfo{Commission: 0.1, FilledAt: t0.Add(time.Minute)})
	require.NoError(t, store.Append(ctx, open))
	require.NoError(t, store.Append(ctx, closeTx))
	require.ErrorIs(t, store.Append(ctx, open), domain.ErrPersistence)

	rows, err := store.Query(ctx, domain.TxFilter{Symbol: "PERP_BTC_USDT"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, closeTx.ID, rows[0].ID)
	require.Equal(t, -0.5, rows[0].Quantity)
	require.Equal(t, domain.TxClose, rows[0].Code)
	require.True(t, t0.Equal(rows[1].TradeTime))

	rows, err = store.Query(ctx, domain.TxFilter{Code: domain.TxOpen, Ascending: true, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, open.ID, rows[0].ID)

	n, err := store.Count(ctx, "PERP_BTC_USDT")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = client.Pool().Exec(ctx, `DELETE FROM transactions`)
	require.Error(t, err, "ledger rejects deletes")
}

func TestAuditStoreIntegration(t *testing.T) {
	client := startPostgres(t)
	ctx := context.Background()
	store := NewAuditStore(client.Pool())

	require.NoError(t, store.Log(ctx, "position.adopted", map[string]any{"symbol": "PERP_BTC_USDT"}))
	require.NoError(t, store.Log(ctx, "order.failed", nil))

	entries, err := store.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "order.failed", entries[0].Event)
	require.Equal(t, "PERP_BTC_USDT", entries[1].Detail["symbol"])
}
