package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshield/backend/internal/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturingLogPublisher struct {
	mu   sync.Mutex
	envs []*events.LogEnvelope
}

func (p *capturingLogPublisher) PublishLog(_ context.Context, env *events.LogEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *capturingLogPublisher) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.envs))
	for i, env := range p.envs {
		out[i] = env.Raw
	}
	return out
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFileTailWaitsForCompleteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	pub := &capturingLogPublisher{}
	c := NewFileTailCollector(path, time.Second, pub, quietLogger())

	// The writer is mid-append: the last line has no newline yet.
	appendFile(t, path, "first complete line\nsecond still being writ")
	c.readNewLines()
	assert.Equal(t, []string{"first complete line"}, pub.lines())

	// Nothing new: the partial line must not be re-read or advanced past.
	c.readNewLines()
	assert.Equal(t, []string{"first complete line"}, pub.lines())

	// The writer finishes the line; the next poll gets it whole.
	appendFile(t, path, "ten\n")
	c.readNewLines()
	assert.Equal(t, []string{
		"first complete line",
		"second still being written",
	}, pub.lines())
}

func TestFileTailResetsOnTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	pub := &capturingLogPublisher{}
	c := NewFileTailCollector(path, time.Second, pub, quietLogger())

	appendFile(t, path, "before rotation\n")
	c.readNewLines()

	// Rotation in place: the file restarts shorter than the offset.
	require.NoError(t, os.WriteFile(path, []byte("after rotation\n"), 0o644))
	c.readNewLines()

	assert.Equal(t, []string{"before rotation", "after rotation"}, pub.lines())
}

func TestFileTailEnvelopeCarriesFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	pub := &capturingLogPublisher{}
	c := NewFileTailCollector(path, time.Second, pub, quietLogger())

	appendFile(t, path, "one line\n")
	c.readNewLines()

	require.Len(t, pub.envs, 1)
	assert.Equal(t, "file", pub.envs[0].Source)
	assert.Equal(t, path, pub.envs[0].Metadata["file_path"])
}
