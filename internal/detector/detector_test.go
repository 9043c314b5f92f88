// File: internal/detector/detector_test.go
package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func stubScanner(t *testing.T, watch Watchlist, procs ...processInfo) *Scanner {
	t.Helper()
	s := NewScanner(watch, zaptest.NewLogger(t))
	s.list = func(ctx context.Context) ([]processInfo, error) {
		return procs, nil
	}
	return s
}

func TestScanMatchesByName(t *testing.T) {
	s := stubScanner(t, Watchlist{Names: []string{"cluely"}},
		processInfo{PID: 10, Name: "systemd", Exe: "/usr/lib/systemd/systemd"},
		processInfo{PID: 11, Name: "Cluely Helper", Exe: "/opt/cluely/helper"},
	)

	events, newPIDs, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindName, events[0].Kind)
	assert.Equal(t, int32(11), events[0].PID)
	assert.Contains(t, events[0].Text, "Cluely Helper")
	assert.Contains(t, newPIDs, int32(11))
}

func TestScanMatchesByPath(t *testing.T) {
	s := stubScanner(t, Watchlist{Paths: []string{"/opt/shady/helper"}},
		processInfo{PID: 20, Name: "helper", Exe: "/opt/shady/helper"},
	)

	events, _, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindPath, events[0].Kind)
}

func TestScanPathMatchIsExact(t *testing.T) {
	s := stubScanner(t, Watchlist{Paths: []string{"/usr/bin/x"}},
		processInfo{PID: 21, Name: "x2", Exe: "/usr/bin/x2"},
		processInfo{PID: 22, Name: "shady", Exe: "/usr/bin/x"},
		processInfo{PID: 23, Name: "deeper", Exe: "/usr/bin/x/tool"},
	)

	events, _, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int32(22), events[0].PID)
}

func TestScanMatchesByHash(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "payload")
	content := []byte("#!/bin/sh\necho hi\n")
	require.NoError(t, os.WriteFile(bin, content, 0o755))
	sum := sha256.Sum256(content)
	digest := hex.EncodeToString(sum[:])

	s := stubScanner(t, Watchlist{Hashes: []string{digest}},
		processInfo{PID: 30, Name: "payload", Exe: bin},
	)

	events, _, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindHash, events[0].Kind)

	// Second scan serves the digest from the cache.
	events, _, err = s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestScanReportsOnlyNewPIDsAsNew(t *testing.T) {
	s := stubScanner(t, Watchlist{Names: []string{"cluely"}},
		processInfo{PID: 40, Name: "cluely", Exe: "/opt/cluely/cluely"},
	)

	_, newPIDs, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, newPIDs, 1)

	// Same process still matches but is no longer new.
	events, newPIDs, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Empty(t, newPIDs)

	// A restart under a fresh PID is new again.
	s.list = func(ctx context.Context) ([]processInfo, error) {
		return []processInfo{{PID: 41, Name: "cluely", Exe: "/opt/cluely/cluely"}}, nil
	}
	_, newPIDs, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Contains(t, newPIDs, int32(41))
}

func TestScanNameMatchIsCaseInsensitive(t *testing.T) {
	s := stubScanner(t, Watchlist{Names: []string{"CLUELY"}},
		processInfo{PID: 50, Name: "cluely", Exe: ""},
	)
	events, _, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRunDeliversTicks(t *testing.T) {
	s := stubScanner(t, Watchlist{Names: []string{"cluely"}},
		processInfo{PID: 60, Name: "cluely", Exe: ""},
	)

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan int, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, 5*time.Millisecond, func(ctx context.Context, events []Event, newPIDs map[int32]struct{}) {
			select {
			case ticks <- len(events):
			default:
			}
		})
	}()

	select {
	case n := <-ticks:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("no scan tick delivered")
	}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}
