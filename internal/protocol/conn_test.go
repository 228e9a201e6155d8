package protocol

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/ethpandaops/gatf-node/internal/testdef"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback is a Conn reading back what it wrote.
func loopback() *Conn {
	return NewConn(&bytes.Buffer{})
}

func TestCommand_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "CONFIG_SHARE_REQ", CommandConfigShareReq.String())
	assert.Equal(t, "LOAD_TESTS_RES", CommandLoadTestsRes.String())
	assert.Equal(t, "COMMAND(42)", Command(42).String())
	assert.False(t, Command(42).Valid())
}

func TestConn_MessageRoundTrip(t *testing.T) {
	t.Parallel()

	c := loopback()

	cfg := &testdef.SharedConfig{
		BaseURL:               "http://api",
		AuthEnabled:           true,
		AuthExtractAuthParams: []string{"X-Auth", "header", "token"},
		DriverConfigs:         []testdef.DriverConfig{{Name: "chrome", Path: "/bin/chromedriver"}},
	}

	require.NoError(t, c.WriteMessage(CommandConfigShareReq, cfg))

	cmd, err := c.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, CommandConfigShareReq, cmd)

	payload, err := c.ReadPayload(cmd)
	require.NoError(t, err)
	assert.Equal(t, cfg, payload)
}

func TestConn_DecodeFailureKeepsStreamInSync(t *testing.T) {
	t.Parallel()

	c := loopback()

	// A string cannot decode into a test set.
	require.NoError(t, c.WriteObject("not a test set"))
	require.NoError(t, c.WriteCommand(CommandTestsShareReq))

	_, err := c.ReadPayload(CommandTestsShareReq)
	require.ErrorIs(t, err, ErrDecode)

	cmd, err := c.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, CommandTestsShareReq, cmd)
}

func TestConn_StatusAndBlob(t *testing.T) {
	t.Parallel()

	c := loopback()

	data := bytes.Repeat([]byte("gatf"), BlobChunkSize) // four chunks
	require.NoError(t, c.WriteStatus(SeleniumRejected))

	n, err := c.WriteBlob(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	code, err := c.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, SeleniumRejected, code)

	var out bytes.Buffer
	n, err = c.ReadBlob(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, out.Bytes())
}

func TestConn_EmptyBlob(t *testing.T) {
	t.Parallel()

	c := loopback()

	_, err := c.WriteBlob(bytes.NewReader(nil))
	require.NoError(t, err)

	n, err := c.ReadBlob(io.Discard)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConn_Abort(t *testing.T) {
	t.Parallel()

	c := loopback()
	require.NoError(t, c.WriteAbort())

	_, err := c.ReadCommand()
	require.ErrorIs(t, err, ErrAborted)
}

func TestConn_RejectsUnexpectedKind(t *testing.T) {
	t.Parallel()

	c := loopback()
	require.NoError(t, c.WriteStatus(1))

	_, err := c.ReadCommand()
	require.ErrorIs(t, err, ErrUnexpectedKind)
}

func TestConn_RejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	c := NewConn(bytes.NewBuffer([]byte{7, 1, 0, 0, 0, 1, 1}))

	_, err := c.ReadCommand()
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestNewPayload_UnknownCommand(t *testing.T) {
	t.Parallel()

	_, err := NewPayload(CommandConfigShareRes)
	require.ErrorIs(t, err, ErrNoPayload)
}

func TestConn_OverPipe(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()

	sender, receiver := NewConn(left), NewConn(right)
	entry := &testdef.LoadTestEntry{Sequence: 3, SuiteName: "s", TestCase: "tc", Passed: 2}

	go func() {
		_ = sender.WriteMessage(CommandLoadTestsRes, entry)
	}()

	cmd, err := receiver.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, CommandLoadTestsRes, cmd)

	got, err := receiver.ReadPayload(cmd)
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}
