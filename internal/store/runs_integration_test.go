//go:build integration

package store

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/nidhogg/parley/internal/negotiation"
	"github.com/nidhogg/parley/internal/results"
)

// startPostgres starts a PostgreSQL testcontainer and returns its DSN.
func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("parley_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func TestStoreRuns(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, startPostgres(t, ctx), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(ctx, migrationsDir()))
	require.NoError(t, s.Migrate(ctx, migrationsDir()), "migrations are idempotent")

	persuasion := 6
	unanimous := true
	rec := results.Record{
		Timestamp:                 time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		RunID:                     "run-1",
		ScenarioFile:              "startup.json",
		ScenarioName:              "Startup",
		NumAgents:                 2,
		AgentsModel:               "m",
		AgentsTemperature:         0.3,
		Mode:                      "mixed",
		MaxRounds:                 5,
		EffectiveRounds:           2,
		AllowPartialAgreements:    true,
		RequireUnanimousAgreement: true,
		AgreementStatus:           "ongoing",
		ConversationHistory:       []negotiation.Turn{{Agent: "Alice", Content: "hi"}},
		UtilityTotalHistory:       []results.UtilityPoint{{Round: 1, UtilityTotal: 4}},
		Unanimous:                 &unanimous,
		FinalPersuasion:           &persuasion,
	}
	require.NoError(t, s.Append(ctx, rec))

	rec.AgreementStatus = "reached"
	rec.EffectiveRounds = 3
	require.NoError(t, s.Append(ctx, rec), "same run id replaces")

	runs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rec, runs[0])
}
