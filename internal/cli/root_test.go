package cli_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/p2pchat/internal/cli"
)

// syncBuffer is written by event handlers after Execute may have returned.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testIO(in io.Reader) (cli.IO, *syncBuffer, *syncBuffer) {
	out, errOut := &syncBuffer{}, &syncBuffer{}
	return cli.IO{In: in, Out: out, Err: errOut}, out, errOut
}

func TestExecute_Version(t *testing.T) {
	stdio, out, _ := testIO(strings.NewReader(""))
	require.NoError(t, cli.Execute(context.Background(), []string{"--version"}, stdio))
	assert.True(t, strings.HasPrefix(out.String(), "p2pchat "))
}

func TestExecute_Help(t *testing.T) {
	stdio, _, errOut := testIO(strings.NewReader(""))
	require.NoError(t, cli.Execute(context.Background(), []string{"-h"}, stdio))
	assert.Contains(t, errOut.String(), "usage: p2pchat")
	assert.Contains(t, errOut.String(), "--role")
}

func TestExecute_UnknownFlag(t *testing.T) {
	stdio, _, _ := testIO(strings.NewReader(""))
	assert.Error(t, cli.Execute(context.Background(), []string{"--bogus"}, stdio))
}

func TestExecute_InvalidConfig(t *testing.T) {
	stdio, _, _ := testIO(strings.NewReader(""))
	err := cli.Execute(context.Background(), []string{"--role", "observer", "--dry-run"}, stdio)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role")
}

func TestExecute_DryRun(t *testing.T) {
	stdio, out, _ := testIO(strings.NewReader(""))
	args := []string{"--dry-run", "-r", "authority", "-p", "9000", "--ws-port", "9001"}
	require.NoError(t, cli.Execute(context.Background(), args, stdio))
	assert.Equal(t,
		"role=authority host=192.168.49.1 port=9000 ws_port=9001 transport=tcp codec=line reconnect=false\n",
		out.String())
}

func TestExecute_MissingConfigFile(t *testing.T) {
	stdio, _, _ := testIO(strings.NewReader(""))
	assert.Error(t, cli.Execute(context.Background(), []string{"-c", t.TempDir() + "/nope.yaml"}, stdio))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestExecute_AuthorityQuits(t *testing.T) {
	port := freePort(t)
	stdio, out, _ := testIO(strings.NewReader("/peers\n/quit\n"))
	args := []string{"-r", "authority", "--bind", "127.0.0.1", "-p", strconv.Itoa(port), "--log-format", "json"}

	require.NoError(t, cli.Execute(context.Background(), args, stdio))
	assert.Contains(t, out.String(), "*** nobody connected ***")
}

func TestExecute_AuthorityStopsOnCancel(t *testing.T) {
	port := freePort(t)
	pr, pw := io.Pipe()
	defer pw.Close()
	stdio, _, _ := testIO(pr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- cli.Execute(ctx, []string{"-r", "authority", "--bind", "127.0.0.1", "-p", strconv.Itoa(port)}, stdio)
	}()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
}

func TestExecute_PeerWithoutAuthority(t *testing.T) {
	stdio, _, _ := testIO(strings.NewReader(""))
	args := []string{"-H", "127.0.0.1", "-p", strconv.Itoa(freePort(t))}
	assert.Error(t, cli.Execute(context.Background(), args, stdio))
}
