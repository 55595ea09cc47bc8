package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	cfg.Scheduler.RunnerSpec = ""
	cfg.Scheduler.EnhancerSpec = ""
	return cfg
}

func TestBuild_InMemoryDefaults(t *testing.T) {
	cfg := testConfig(t)

	app, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	require.Nil(t, app.pool)
	require.Nil(t, app.storage)
	require.Nil(t, app.pubsub)
	require.NotNil(t, app.runner)
	require.NotNil(t, app.scheduler)
	require.Empty(t, app.scheduler.Entries())

	for _, path := range []string{"/healthz", "/readyz", "/v1/runner"} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Close(ctx))
}

func TestBuild_LocalStorageAndSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.BaseDir = t.TempDir()
	cfg.Scheduler.RunnerSpec = "@every 1m"
	cfg.Scheduler.EnhancerSpec = "0 3 * * *"

	app, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	require.Len(t, app.scheduler.Entries(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Close(ctx))
}

func TestBuild_EnhancerDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Enhancer.Enabled = false
	cfg.Scheduler.EnhancerSpec = "0 3 * * *"

	app, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	require.Empty(t, app.scheduler.Entries())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/enhancer/run", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, app.Close(context.Background()))
}

func TestSetupProviders(t *testing.T) {
	t.Run("unconfigured", func(t *testing.T) {
		cfg := testConfig(t)
		app := &App{cfg: &cfg, logger: zap.NewNop()}
		transcriber, researcher, writerSvc := setupProviders(app)
		require.Nil(t, transcriber)
		require.False(t, researcher.Configured())
		require.False(t, writerSvc.Configured())
	})

	t.Run("configured", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Providers.Transcript.APIKey = "t-key"
		cfg.Providers.Research.APIKey = "r-key"
		cfg.Providers.Writer.APIKey = "w-key"
		cfg.Providers.Writer.AssistantID = "asst_1"
		app := &App{cfg: &cfg, logger: zap.NewNop()}
		transcriber, researcher, writerSvc := setupProviders(app)
		require.NotNil(t, transcriber)
		require.True(t, researcher.Configured())
		require.True(t, writerSvc.Configured())
	})
}
