package coordinator

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/gatf-node/internal/archive"
	"github.com/ethpandaops/gatf-node/internal/server"
	"github.com/ethpandaops/gatf-node/internal/session"
	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/ethpandaops/gatf-node/internal/units"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	outDir string
}

func (f *fakeEngine) Run(
	_ context.Context,
	cfg *testdef.SharedConfig,
	set *testdef.TestSet,
	entries chan<- testdef.LoadTestEntry,
) (*testdef.DistributedTestStatus, error) {
	status := &testdef.DistributedTestStatus{Node: "fake", SuiteName: set.SuiteName}

	for i, tc := range set.TestCases {
		status.Add(&testdef.TestCaseReport{TestCase: tc.Name, Status: testdef.StatusSuccess})
		entries <- testdef.LoadTestEntry{Sequence: int64(i + 1), TestCase: tc.Name}
	}

	if err := os.WriteFile(filepath.Join(cfg.OutputDir(), "index.html"), []byte("<html/>"), 0o644); err != nil {
		return nil, err
	}

	return status, nil
}

func (f *fakeEngine) RunRemoteUnits(
	_ context.Context,
	loaded []units.Unit,
	_ *units.Environment,
) ([][]map[string]testdef.UnitResult, error) {
	out := make([][]map[string]testdef.UnitResult, len(loaded))
	for i, u := range loaded {
		out[i] = []map[string]testdef.UnitResult{{"status": {Name: u.ID(), Passed: true}}}
	}

	return out, nil
}

func startNode(t *testing.T) string {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	h := session.NewHandler(log, &fakeEngine{}, archive.NewZip(log), units.NewLoader(log, units.DefaultRegistry), nil, session.Options{
		WorkDir:    t.TempDir(),
		ScratchDir: t.TempDir(),
	})

	l := server.NewListener(log, "127.0.0.1:0", h, nil)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop() })

	return l.Addr().String()
}

func TestClient_DispatchTests(t *testing.T) {
	t.Parallel()

	addr := startNode(t)
	archives := t.TempDir()
	out := t.TempDir()

	c := NewClient(logrus.New(), archives)

	var seen []string

	res, err := c.DispatchTests(context.Background(), addr,
		&testdef.SharedConfig{OutFilesDir: out},
		&testdef.TestSet{
			SuiteName: "shop",
			TestCases: []*testdef.TestCase{
				{Name: "login", URL: "/login"},
				{Name: "items", URL: "/items"},
			},
		},
		func(e *testdef.LoadTestEntry) { seen = append(seen, e.TestCase) },
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"login", "items"}, seen)
	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, 2, res.Status.Passed)
	assert.Equal(t, archives, filepath.Dir(res.ArchivePath))
	assert.Positive(t, res.ArchiveSize)

	dest := t.TempDir()
	n, err := archive.NewZip(logrus.New()).Unpack(res.ArchivePath, dest)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(dest, "index.html"))
}

func TestClient_DispatchTestsRejected(t *testing.T) {
	t.Parallel()

	addr := startNode(t)
	c := NewClient(logrus.New(), t.TempDir())

	_, err := c.DispatchTests(context.Background(), addr, &testdef.SharedConfig{}, &testdef.TestSet{}, nil)
	require.ErrorIs(t, err, ErrRejected)
}

func TestClient_DispatchUnits(t *testing.T) {
	t.Parallel()

	addr := startNode(t)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, units.ManifestFile), []byte(`units:
  - id: home
    kind: httpcheck
    params:
      url: /
`), 0o644))

	var bundle bytes.Buffer
	_, err := archive.NewZip(logrus.New()).Pack(src, nil, &bundle)
	require.NoError(t, err)

	c := NewClient(logrus.New(), t.TempDir())

	res, err := c.DispatchUnits(context.Background(), addr,
		&testdef.SharedConfig{ValidSeleniumRequest: true}, &bundle, []string{"home"})
	require.NoError(t, err)
	assert.Equal(t, int32(0), res.Code)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "home", res.Results[0][0]["status"].Name)

	res, err = c.DispatchUnits(context.Background(), addr,
		&testdef.SharedConfig{}, bytes.NewReader(nil), []string{"home"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), res.Code)
	assert.Nil(t, res.Results)
}
