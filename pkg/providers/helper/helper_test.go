package helper

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelperStreamsStdout(t *testing.T) {
	p, err := Start(context.Background(), nil, []string{"sh", "-c", "echo one; echo two; echo oops >&2"}, Options{})
	require.NoError(t, err)
	defer p.Close()

	out, err := io.ReadAll(p)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(out))
	assert.Equal(t, []string{"oops"}, p.Stderr())
}

func TestHelperExitErrorCarriesStderr(t *testing.T) {
	p, err := Start(context.Background(), nil, []string{"sh", "-c", "echo 'unit not found' >&2; exit 3"}, Options{})
	require.NoError(t, err)
	defer p.Close()

	_, err = io.ReadAll(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unit not found")
}

func TestHelperCloseTerminates(t *testing.T) {
	p, err := Start(context.Background(), nil, []string{"sleep", "30"}, Options{Grace: time.Second})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Close())
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-p.done:
	default:
		t.Fatal("process still running after Close")
	}
}

func TestHelperCloseKillsAfterGrace(t *testing.T) {
	p, err := Start(context.Background(), nil, []string{"sh", "-c", "trap '' TERM; sleep 30"}, Options{Grace: 200 * time.Millisecond})
	require.NoError(t, err)

	// Let the shell install its trap.
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	require.NoError(t, p.Close())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHelperContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := Start(ctx, nil, []string{"sleep", "30"}, Options{Grace: time.Second})
	require.NoError(t, err)

	cancel()
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		t.Fatal("process not stopped after context cancel")
	}
}

func TestHelperCleanup(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "since.cursor")
	require.NoError(t, os.WriteFile(artifact, []byte("x"), 0o600))

	p, err := Start(context.Background(), nil, []string{"true"}, Options{Cleanup: []string{artifact}})
	require.NoError(t, err)
	_, _ = io.ReadAll(p)
	require.NoError(t, p.Close())

	_, err = os.Stat(artifact)
	assert.True(t, os.IsNotExist(err))
}

func TestHelperEmptyCommand(t *testing.T) {
	_, err := Start(context.Background(), nil, nil, Options{})
	assert.Error(t, err)
}

func TestRing(t *testing.T) {
	r := newRing(2)
	_, _ = r.Write([]byte("a\nb\r\nc"))
	assert.Equal(t, []string{"a", "b", "c"}, r.lines())
	_, _ = r.Write([]byte("d\ne\n"))
	assert.Equal(t, []string{"cd", "e"}, r.lines())
}

func TestHelperMergeStderr(t *testing.T) {
	p, err := Start(context.Background(), nil, []string{"sh", "-c", "echo out; echo err >&2"}, Options{MergeStderr: true})
	require.NoError(t, err)
	defer p.Close()

	out, err := io.ReadAll(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), "out\n")
	assert.Contains(t, string(out), "err\n")
}
