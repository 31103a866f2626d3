package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-draw-watcher/internal/config"
	"github.com/JakeFAU/realtime-draw-watcher/internal/dispatcher"
	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	memorypublisher "github.com/JakeFAU/realtime-draw-watcher/internal/publisher/memory"
	"github.com/JakeFAU/realtime-draw-watcher/internal/session"
	memorystorage "github.com/JakeFAU/realtime-draw-watcher/internal/storage/memory"
)

const southFrames = `
frames:
  - targets:
      - region: Tây Ninh
        fields:
          eighth_prize: ["42"]
          seventh_prize: ["123"]
          sixth_prize: ["1234", "2345", "3456"]
          fifth_prize: ["4567"]
          fourth_prize: ["11111", "22222", "33333", "44444", "55555", "66666", "77777"]
          third_prize: ["12345", "23456"]
          second_prize: ["34567"]
          first_prize: ["45678"]
          special_prize: ["123456"]
`

func writeFrames(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.yaml")
	require.NoError(t, os.WriteFile(path, []byte(southFrames), 0o600))
	return path
}

func testConfig(frames string) config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 0, ShutdownTimeout: 2 * time.Second},
		Guard:   config.GuardConfig{Backend: "memory"},
		Events:  config.EventsConfig{Backend: "memory"},
		Store:   config.StoreConfig{Backend: "memory"},
		Archive: config.ArchiveConfig{Backend: "none"},
		Extract: config.ExtractConfig{CallTimeout: time.Second},
		Families: map[string]config.FamilyConfig{
			"south": {
				LiveInterval: 5 * time.Millisecond,
				IdleInterval: 5 * time.Millisecond,
				Budget:       5 * time.Second,
				Extractor:    config.ExtractorConfig{Kind: config.KindReplay, Frames: frames},
			},
		},
	}
}

func testDate() time.Time {
	return time.Date(2026, 10, 19, 0, 0, 0, 0, draw.Location())
}

func TestRunOnceWithPersistentBackends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig(writeFrames(t))
	cfg.Guard = config.GuardConfig{Backend: "file", Dir: filepath.Join(dir, "locks")}
	cfg.Store = config.StoreConfig{Backend: "sqlite", SQLitePath: filepath.Join(dir, "drawwatch.db")}
	cfg.Archive = config.ArchiveConfig{Backend: "local", Dir: filepath.Join(dir, "archive")}
	require.NoError(t, cfg.Validate())

	app, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	res, err := app.RunOnce(context.Background(), dispatcher.Request{Family: "xsmn", Date: testDate()}, "")
	require.NoError(t, err)
	require.Equal(t, session.Completed, res.State)
	require.Equal(t, 2, res.Iterations, "the special prize needs two matching reads")
	require.Len(t, res.Targets, 1)
	require.Equal(t, "xsmn-19-10-2026-tay-ninh", res.Targets[0].ID)
	require.True(t, res.Targets[0].Complete)

	rec, ok, err := app.store.Get(context.Background(), "xsmn-19-10-2026-tay-ninh")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.Complete)
	require.Equal(t, []string{"123456"}, rec.Fields[draw.FieldSpecialPrize])

	data, err := os.ReadFile(filepath.Join(dir, "archive", "south", "2026-10-19", "xsmn-19-10-2026-tay-ninh.json"))
	require.NoError(t, err)
	var archived draw.Record
	require.NoError(t, json.Unmarshal(data, &archived))
	require.Equal(t, rec.ID, archived.ID)

	_, err = os.Stat(filepath.Join(dir, "locks"))
	require.NoError(t, err)
}

func TestRunOnceFramesOverride(t *testing.T) {
	t.Parallel()

	cfg := testConfig("")
	cfg.Families["south"] = config.FamilyConfig{
		LiveInterval: 5 * time.Millisecond,
		IdleInterval: 5 * time.Millisecond,
	}
	app, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	res, err := app.RunOnce(context.Background(), dispatcher.Request{Family: "south", Date: testDate()}, writeFrames(t))
	require.NoError(t, err)
	require.Equal(t, session.Completed, res.State)

	events := app.events.(*memorypublisher.Publisher).Events()
	require.Len(t, events, 18, "one event per slot")
}

func TestRunOnceWithoutExtractorAborts(t *testing.T) {
	t.Parallel()

	app, err := build(context.Background(), testConfig(""), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	res, err := app.RunOnce(context.Background(), dispatcher.Request{Family: "north", Date: testDate()}, "")
	require.ErrorContains(t, err, "no extractor configured for family north")
	require.Equal(t, session.Aborted, res.State)

	_, err = app.RunOnce(context.Background(), dispatcher.Request{Family: "east"}, "")
	require.ErrorIs(t, err, draw.ErrUnknownFamily)
}

func TestSessionsStartedOverHTTP(t *testing.T) {
	t.Parallel()

	app, err := build(context.Background(), testConfig(writeFrames(t)), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString(`{"family":"south","date":"2026-10-19"}`))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp["session_id"]
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		res, ok := app.Dispatcher().Get(id)
		return ok && res.State == session.Completed
	}, 5*time.Second, 10*time.Millisecond)

	records := app.store.(*memorystorage.RecordStore).Records()
	require.Len(t, records, 1)
	require.True(t, records[0].Complete)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"completed"`)
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	app, err := build(context.Background(), testConfig(""), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBuildRejectsUnreachableBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig("")
	cfg.Guard = config.GuardConfig{Backend: "file", Dir: ""}
	_, err := build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "file guard init failed")

	cfg = testConfig("")
	cfg.Archive = config.ArchiveConfig{Backend: "local", Dir: ""}
	_, err = build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "local archive init failed")
}
