// File: internal/detector/detector.go

// Package detector scans the local process table for watchlisted programs.
// Matching is three-tiered: executable name substring, executable path
// substring, and SHA-256 of the binary on disk. Hashing is the expensive
// tier, so digests are memoized per path and computed only when the
// watchlist actually carries hashes.
package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Kind is the tier a detection matched on.
type Kind int

const (
	KindName Kind = iota
	KindPath
	KindHash
)

func (k Kind) String() string {
	switch k {
	case KindName:
		return "NAME"
	case KindPath:
		return "PATH"
	case KindHash:
		return "HASH"
	default:
		return "UNKNOWN"
	}
}

// Event is one detection from a scan tick.
type Event struct {
	Kind       Kind
	PID        int32
	Text       string
	DetectedAt time.Time
}

// Watchlist is what the scanner looks for. Name and path matches are
// case-insensitive substrings; hashes are hex SHA-256 digests compared
// case-insensitively.
type Watchlist struct {
	Names  []string
	Paths  []string
	Hashes []string
}

func (w Watchlist) normalized() Watchlist {
	n := Watchlist{}
	for _, s := range w.Names {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			n.Names = append(n.Names, s)
		}
	}
	for _, s := range w.Paths {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			n.Paths = append(n.Paths, s)
		}
	}
	for _, s := range w.Hashes {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			n.Hashes = append(n.Hashes, s)
		}
	}
	return n
}

type processInfo struct {
	PID  int32
	Name string
	Exe  string
}

// TickFunc receives the matches of one scan tick along with the set of PIDs
// not seen matching on the previous tick.
type TickFunc func(ctx context.Context, events []Event, newPIDs map[int32]struct{})

// Scanner walks the process table against a Watchlist.
type Scanner struct {
	logger *zap.Logger
	watch  Watchlist

	// list is swapped out by tests.
	list func(ctx context.Context) ([]processInfo, error)

	mu        sync.Mutex
	hashCache map[string]string
	lastPIDs  map[int32]struct{}
}

// NewScanner builds a scanner over the live process table.
func NewScanner(watch Watchlist, logger *zap.Logger) *Scanner {
	return &Scanner{
		logger:    logger.Named("detector"),
		watch:     watch.normalized(),
		list:      listProcesses,
		hashCache: make(map[string]string),
		lastPIDs:  make(map[int32]struct{}),
	}
}

func listProcesses(ctx context.Context) ([]processInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("detector: process table: %w", err)
	}
	infos := make([]processInfo, 0, len(procs))
	for _, p := range procs {
		// Name and path lookups fail for short-lived or privileged
		// processes; skip what cannot be read.
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		exe, _ := p.ExeWithContext(ctx)
		infos = append(infos, processInfo{PID: p.Pid, Name: name, Exe: exe})
	}
	return infos, nil
}

// Scan performs one pass over the process table. It returns every match
// plus the subset of matched PIDs that were not matched on the previous
// call.
func (s *Scanner) Scan(ctx context.Context) ([]Event, map[int32]struct{}, error) {
	infos, err := s.list(ctx)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	var events []Event
	matched := make(map[int32]struct{})
	for _, info := range infos {
		ev, ok := s.match(info, now)
		if !ok {
			continue
		}
		events = append(events, ev)
		matched[info.PID] = struct{}{}
	}

	s.mu.Lock()
	newPIDs := make(map[int32]struct{})
	for pid := range matched {
		if _, seen := s.lastPIDs[pid]; !seen {
			newPIDs[pid] = struct{}{}
		}
	}
	s.lastPIDs = matched
	s.mu.Unlock()

	return events, newPIDs, nil
}

func (s *Scanner) match(info processInfo, now time.Time) (Event, bool) {
	name := strings.ToLower(info.Name)
	exe := strings.ToLower(info.Exe)

	for _, want := range s.watch.Names {
		if strings.Contains(name, want) {
			return Event{
				Kind:       KindName,
				PID:        info.PID,
				Text:       fmt.Sprintf("[NAME] %s (PID %d)", info.Name, info.PID),
				DetectedAt: now,
			}, true
		}
	}
	if exe != "" {
		// Paths match by exact equality, not substring: a watched
		// /usr/bin/x must not flag /usr/bin/x2.
		for _, want := range s.watch.Paths {
			if exe == want {
				return Event{
					Kind:       KindPath,
					PID:        info.PID,
					Text:       fmt.Sprintf("[PATH] %s (PID %d)", info.Exe, info.PID),
					DetectedAt: now,
				}, true
			}
		}
	}
	if len(s.watch.Hashes) > 0 && info.Exe != "" {
		digest, err := s.hashOf(info.Exe)
		if err == nil {
			for _, want := range s.watch.Hashes {
				if digest == want {
					return Event{
						Kind:       KindHash,
						PID:        info.PID,
						Text:       fmt.Sprintf("[HASH] %s %s (PID %d)", info.Name, digest[:12], info.PID),
						DetectedAt: now,
					}, true
				}
			}
		}
	}
	return Event{}, false
}

func (s *Scanner) hashOf(path string) (string, error) {
	s.mu.Lock()
	if digest, ok := s.hashCache[path]; ok {
		s.mu.Unlock()
		return digest, nil
	}
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	digest := hex.EncodeToString(h.Sum(nil))

	s.mu.Lock()
	s.hashCache[path] = digest
	s.mu.Unlock()
	return digest, nil
}

// Run scans on the interval until ctx is cancelled, delivering each tick's
// results to fn. A failed scan is logged and the loop continues.
func (s *Scanner) Run(ctx context.Context, interval time.Duration, fn TickFunc) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			events, newPIDs, err := s.Scan(ctx)
			if err != nil {
				s.logger.Warn("Process scan failed", zap.Error(err))
				continue
			}
			if len(events) > 0 {
				s.logger.Debug("Scan tick",
					zap.Int("matches", len(events)),
					zap.Int("new", len(newPIDs)))
			}
			fn(ctx, events, newPIDs)
		}
	}
}
