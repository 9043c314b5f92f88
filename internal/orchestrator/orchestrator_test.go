// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/truelylabs/truely-cli/internal/config"
	"github.com/truelylabs/truely-cli/internal/detector"
	"github.com/truelylabs/truely-cli/internal/meeting"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	mu        sync.Mutex
	state     meeting.State
	joinErr   error
	chatErr   error
	sent      []string
	leaveCall int
}

func (s *fakeSession) Join(ctx context.Context, req meeting.JoinRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinErr != nil {
		s.state = meeting.StateFailed
		return s.joinErr
	}
	s.state = meeting.StateJoined
	return nil
}

func (s *fakeSession) OpenChat(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatErr != nil {
		return s.chatErr
	}
	s.state = meeting.StateChatReady
	return nil
}

func (s *fakeSession) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSession) Leave(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveCall++
	if s.state != meeting.StateFailed {
		s.state = meeting.StateClosed
	}
}

func (s *fakeSession) State() meeting.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) ChatReady() bool { return s.State() == meeting.StateChatReady }

func (s *fakeSession) leaves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveCall
}

func (s *fakeSession) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type fakeChannel struct {
	mu       sync.Mutex
	excluded []string
	armed    bool
	// fire, when closed, makes Run signal shutdown.
	fire chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{fire: make(chan struct{})}
}

func (c *fakeChannel) ExcludeSystemMessage(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.excluded = append(c.excluded, text)
}

func (c *fakeChannel) Arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = true
}

func (c *fakeChannel) Run(ctx context.Context, shutdown chan<- struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.fire:
		shutdown <- struct{}{}
		return nil
	}
}

type fakeScanner struct {
	events  []detector.Event
	newPIDs map[int32]struct{}
}

func (s *fakeScanner) Run(ctx context.Context, interval time.Duration, fn detector.TickFunc) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx, s.events, s.newPIDs)
		}
	}
}

type fakeRelay struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRelay) OnDetection(ctx context.Context, events []detector.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
}

func (r *fakeRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testConfig() *config.Config {
	return &config.Config{
		Meeting: config.MeetingConfig{LeaveTimeout: time.Second},
		Detector: config.DetectorConfig{
			Interval: 5 * time.Millisecond,
		},
		Command: config.CommandConfig{
			PollInterval:  5 * time.Millisecond,
			ShutdownToken: "BYEBYE",
		},
		Alert: config.AlertConfig{Cooldown: time.Hour},
	}
}

func testRequest() meeting.JoinRequest {
	return meeting.JoinRequest{
		Provider: meeting.ProviderZoom,
		Target:   "https://zoom.us/wc/join/123456789",
	}
}

func TestRunShutsDownOnChatCommand(t *testing.T) {
	session := &fakeSession{}
	channel := newFakeChannel()
	scanner := &fakeScanner{}
	relay := &fakeRelay{}
	o := New(testConfig(), session, channel, scanner, relay, nil, "", zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), testRequest()) }()

	// Let the announcements land, then fire the chat command.
	require.Eventually(t, func() bool {
		channel.mu.Lock()
		defer channel.mu.Unlock()
		return channel.armed
	}, 2*time.Second, 5*time.Millisecond)
	close(channel.fire)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after chat command")
	}
	assert.Equal(t, 1, session.leaves())
	assert.Equal(t, meeting.StateClosed, session.State())
}

func TestRunShutsDownOnSignalCancellation(t *testing.T) {
	session := &fakeSession{}
	channel := newFakeChannel()
	o := New(testConfig(), session, channel, &fakeScanner{}, &fakeRelay{}, nil, "", zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, testRequest()) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.Equal(t, 1, session.leaves())
}

func TestRunAnnouncesAndExcludesInstructions(t *testing.T) {
	session := &fakeSession{}
	channel := newFakeChannel()
	o := New(testConfig(), session, channel, &fakeScanner{}, &fakeRelay{}, nil, "", zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, testRequest()) }()

	require.Eventually(t, func() bool { return len(session.messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	msgs := session.messages()
	assert.Contains(t, msgs[0], "monitoring")
	assert.Contains(t, msgs[1], "BYEBYE")

	channel.mu.Lock()
	defer channel.mu.Unlock()
	require.Len(t, channel.excluded, 1)
	assert.Contains(t, channel.excluded[0], "BYEBYE")
	assert.True(t, channel.armed)
}

func TestRunJoinFailureStillUnwinds(t *testing.T) {
	session := &fakeSession{joinErr: errors.New("join button never appeared")}
	channel := newFakeChannel()
	o := New(testConfig(), session, channel, &fakeScanner{}, &fakeRelay{}, nil, "", zaptest.NewLogger(t))

	err := o.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, 1, session.leaves())
	assert.Empty(t, session.messages())
}

func TestRunContinuesWithoutChat(t *testing.T) {
	session := &fakeSession{chatErr: errors.New("no chat toggle")}
	channel := newFakeChannel()
	o := New(testConfig(), session, channel, &fakeScanner{}, &fakeRelay{}, nil, "", zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, testRequest()) }()

	require.Eventually(t, func() bool {
		channel.mu.Lock()
		defer channel.mu.Unlock()
		return channel.armed
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, session.messages())
}

func TestRunRelaysOnlyNewDetections(t *testing.T) {
	session := &fakeSession{}
	channel := newFakeChannel()
	relay := &fakeRelay{}
	scanner := &fakeScanner{
		events:  []detector.Event{{Kind: detector.KindName, PID: 1, Text: "[NAME] cluely (PID 1)"}},
		newPIDs: map[int32]struct{}{1: {}},
	}
	o := New(testConfig(), session, channel, scanner, relay, nil, "", zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, testRequest()) }()
	require.Eventually(t, func() bool { return relay.count() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// Ticks with no new PIDs never reach the relay.
	before := relay.count()
	scanner.newPIDs = nil
	assert.GreaterOrEqual(t, before, 1)
}

func TestRunLaunchesNativeClient(t *testing.T) {
	session := &fakeSession{}
	channel := newFakeChannel()
	var launched []string
	var mu sync.Mutex
	launch := func(ctx context.Context, target string) error {
		mu.Lock()
		defer mu.Unlock()
		launched = append(launched, target)
		return nil
	}
	o := New(testConfig(), session, channel, &fakeScanner{}, &fakeRelay{}, launch, "zoommtg://zoom.us/join?confno=1", zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, testRequest()) }()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(launched) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"zoommtg://zoom.us/join?confno=1"}, launched)
}
