package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

func southFamily(t *testing.T) draw.Family {
	t.Helper()
	f, err := draw.LookupFamily("south")
	require.NoError(t, err)
	return f
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	f := southFamily(t)
	date := time.Date(2026, 10, 19, 0, 0, 0, 0, draw.Location())

	_, err := New(Config{URL: "https://results.example.test"}, f, date)
	require.Error(t, err)

	_, err = New(Config{Script: "window.results"}, f, date)
	require.Error(t, err)

	ext, err := New(Config{URL: "https://results.example.test/{{.Code}}/{{.Date}}", Script: "window.results"}, f, date)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ext.Close()) })

	require.Equal(t, "https://results.example.test/xsmn/19-10-2026", ext.URL())
	require.Equal(t, 45*time.Second, ext.cfg.NavigationTimeout)
	require.Equal(t, "body", ext.cfg.WaitSelector)
}

func TestNeedsNavigation(t *testing.T) {
	t.Parallel()

	e := &Extractor{cfg: Config{ReloadEvery: 3}}
	require.True(t, e.needsNavigation())

	e.navigated = true
	e.evaluations = 1
	require.False(t, e.needsNavigation())
	e.evaluations = 3
	require.True(t, e.needsNavigation())

	e.cfg.ReloadEvery = 0
	require.False(t, e.needsNavigation())
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	headers := toNetworkHeaders(http.Header{
		"X-Single": {"a"},
		"X-Multi":  {"a", "b"},
		"X-Empty":  {},
	})
	require.Equal(t, "a", headers["X-Single"])
	require.Equal(t, []string{"a", "b"}, headers["X-Multi"])
	_, ok := headers["X-Empty"]
	require.False(t, ok)
}

func findChrome(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("chromedp unavailable: no chrome binary on PATH")
	return ""
}

func TestExtractKeepsBrowserAcrossCalls(t *testing.T) {
	execPath := findChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!doctype html><html><body><script>
window.results = {targets: [{region: "Tiền Giang", fields: {special_prize: ["912345"]}}]};
</script></body></html>`)
	}))
	t.Cleanup(srv.Close)

	date := time.Date(2026, 10, 19, 0, 0, 0, 0, draw.Location())
	ext, err := New(Config{
		URL:               srv.URL,
		Script:            "window.results",
		NavigationTimeout: 20 * time.Second,
		ExecPath:          execPath,
	}, southFamily(t), date)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ext.Close()) })

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		got, err := ext.Extract(ctx, draw.ExtractRequest{})
		cancel()
		if i == 0 && err != nil {
			t.Skipf("chromedp unavailable: %v", err)
		}
		require.NoError(t, err, "call %d", i+1)
		require.Len(t, got.Targets, 1)
		require.Equal(t, "Tiền Giang", got.Targets[0].Region)
	}
	require.Equal(t, 2, ext.evaluations)
}
