//go:build integration

package web_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence/postgresql"
	"github.com/dukex/courier/pkg/services"
	"github.com/dukex/courier/pkg/testutil"
	"github.com/dukex/courier/pkg/web"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupTestDB(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("courier_web_test"),
		postgres.WithUsername("courier"),
		postgres.WithPassword("courier"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, db.Close())

	return dbURL
}

func TestCampaign_Integration(t *testing.T) {
	dbURL := setupTestDB(t)

	store, err := postgresql.NewPersistence(context.Background(), slog.Default(), dbURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	app := newTestApp(t, store)
	app.seedContacts(t, "c1", "c2", "c3")

	t.Run("save and fetch flow", func(t *testing.T) {
		status, body := app.do(t, http.MethodPost, "/flows", flowRequest(testutil.CreateMenuFlow("survey", "")))
		require.Equal(t, http.StatusCreated, status, string(body))

		status, body = app.do(t, http.MethodGet, "/flows/survey", nil)
		require.Equal(t, http.StatusOK, status)

		var flow models.Flow
		require.NoError(t, json.Unmarshal(body, &flow))
		assert.Len(t, flow.Nodes, 4)
		assert.False(t, flow.CreatedAt.IsZero())
	})

	var executionID string

	t.Run("start is idempotent", func(t *testing.T) {
		start := web.StartExecutionRequest{ContactIDs: []string{"c1", "c2", "c3"}, BatchSize: 2}

		status, body := app.do(t, http.MethodPost, "/flows/survey/executions", start, web.IdempotencyKeyHeader, "pg-1")
		require.Equal(t, http.StatusAccepted, status, string(body))

		var started campaign.StartResult
		require.NoError(t, json.Unmarshal(body, &started))
		assert.Equal(t, 2, started.Batches)

		executionID = started.Execution.ID

		status, body = app.do(t, http.MethodPost, "/flows/survey/executions", start, web.IdempotencyKeyHeader, "pg-1")
		require.Equal(t, http.StatusOK, status)

		var again campaign.StartResult
		require.NoError(t, json.Unmarshal(body, &again))
		assert.Equal(t, executionID, again.Execution.ID)
		assert.Zero(t, again.Batches)
	})

	t.Run("contacts wait for replies", func(t *testing.T) {
		app.deliver(t)

		status, body := app.do(t, http.MethodGet, "/executions/"+executionID, nil)
		require.Equal(t, http.StatusOK, status)

		var current services.StatusResponse
		require.NoError(t, json.Unmarshal(body, &current))
		assert.Equal(t, 3, current.Contacts[models.CursorStatusWaiting])
	})

	t.Run("replies complete the campaign", func(t *testing.T) {
		for _, contactID := range []string{"c1", "c2", "c3"} {
			status, body := app.do(t, http.MethodPost,
				"/executions/"+executionID+"/contacts/"+contactID+"/reply", web.ReplyRequest{Text: "no"})
			require.Equal(t, http.StatusAccepted, status, string(body))
		}

		app.deliver(t)

		status, body := app.do(t, http.MethodGet, "/executions/"+executionID, nil)
		require.Equal(t, http.StatusOK, status)

		var current services.StatusResponse
		require.NoError(t, json.Unmarshal(body, &current))
		assert.Equal(t, models.ExecutionStatusCompleted, current.Execution.Status)
		assert.Equal(t, 3, current.Contacts[models.CursorStatusCompleted])
	})

	t.Run("ledger pages", func(t *testing.T) {
		status, body := app.do(t, http.MethodGet, "/executions/"+executionID+"/node-executions?limit=4&offset=0", nil)
		require.Equal(t, http.StatusOK, status)

		var page struct {
			NodeExecutions []models.NodeExecution `json:"node_executions"`
			TotalCount     int                    `json:"total_count"`
			HasNextPage    bool                   `json:"has_next_page"`
		}
		require.NoError(t, json.Unmarshal(body, &page))
		assert.Equal(t, 9, page.TotalCount)
		assert.Len(t, page.NodeExecutions, 4)
		assert.True(t, page.HasNextPage)
	})
}
