package units

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifest = `units:
  - id: com.example.HomePage
    kind: httpcheck
    runs: 2
    params:
      url: /home
      contains: welcome
  - id: com.example.Legacy
    kind: applet
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(content), 0o644))

	return dir
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	dir := writeManifest(t, manifest)
	l := NewLoader(logrus.New(), DefaultRegistry)

	loaded, err := l.Load(dir, []string{"com.example.HomePage"})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "com.example.HomePage", loaded[0].ID())
}

func TestLoader_UnitNotFound(t *testing.T) {
	t.Parallel()

	dir := writeManifest(t, manifest)
	l := NewLoader(logrus.New(), DefaultRegistry)

	tests := []struct {
		name string
		ids  []string
	}{
		{name: "unknown identifier", ids: []string{"com.example.HomePage", "com.example.Missing"}},
		{name: "unregistered kind", ids: []string{"com.example.Legacy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Load(dir, tt.ids)
			require.ErrorIs(t, err, ErrUnitNotFound)
		})
	}
}

func TestLoader_NoIdentifiers(t *testing.T) {
	t.Parallel()

	loaded, err := NewLoader(logrus.New(), DefaultRegistry).Load(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoader_MissingManifest(t *testing.T) {
	t.Parallel()

	_, err := NewLoader(logrus.New(), DefaultRegistry).Load(t.TempDir(), []string{"a"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnitNotFound)
}

func TestRegistry_RegisterTwicePanics(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("x", newHTTPCheck)

	assert.Panics(t, func() { r.Register("x", newHTTPCheck) })
	assert.Equal(t, []string{"x"}, r.Kinds())
	assert.Contains(t, DefaultRegistry.Kinds(), KindHTTPCheck)
}

func TestResolveDrivers(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	declared := filepath.Join(t.TempDir(), "chromedriver")
	require.NoError(t, os.WriteFile(declared, []byte("bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "geckodriver"), []byte("bin"), 0o755))

	resolved, err := ResolveDrivers([]testdef.DriverConfig{
		{Name: "webdriver.chrome.driver", Path: declared},
		{Name: "webdriver.gecko.driver", Path: "/opt/drivers/geckodriver"},
	}, workDir)
	require.NoError(t, err)

	assert.Equal(t, declared, resolved["webdriver.chrome.driver"])
	assert.Equal(t, filepath.Join(workDir, "geckodriver"), resolved["webdriver.gecko.driver"])

	_, err = ResolveDrivers([]testdef.DriverConfig{{Name: "edge", Path: "/opt/msedgedriver"}}, workDir)
	require.ErrorIs(t, err, ErrDriverMissing)
}

func TestHTTPCheck_Run(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/home" {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write([]byte("welcome back"))
	}))
	defer srv.Close()

	dir := writeManifest(t, manifest)

	loaded, err := NewLoader(logrus.New(), DefaultRegistry).Load(dir, []string{"com.example.HomePage"})
	require.NoError(t, err)

	env := &Environment{Dir: dir, Config: &testdef.SharedConfig{BaseURL: srv.URL}, Client: srv.Client()}

	results, err := loaded[0].Run(context.Background(), env)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.True(t, r["status"].Passed, r["status"].Error)
		assert.True(t, r["contains"].Passed, r["contains"].Error)
	}

	assert.Equal(t, "2", results[1]["status"].Details["run"])
}

func TestHTTPCheck_Failures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	unit, err := newHTTPCheck(ManifestEntry{ID: "tea", Params: map[string]string{"url": srv.URL, "contains": "x"}})
	require.NoError(t, err)

	results, err := unit.Run(context.Background(), &Environment{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.False(t, results[0]["status"].Passed)
	assert.Equal(t, "expected status 200, got 418", results[0]["status"].Error)
	assert.False(t, results[0]["contains"].Passed)

	_, err = newHTTPCheck(ManifestEntry{ID: "no-url"})
	require.Error(t, err)

	_, err = newHTTPCheck(ManifestEntry{ID: "bad", Params: map[string]string{"url": "/", "expect_status": "ok"}})
	require.Error(t, err)
}
