package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"viewmux/internal/core/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeFactory struct {
	mu     sync.Mutex
	active int
	peak   int
	total  int
	delay  time.Duration
}

func (f *fakeFactory) NewPlayer(ctx context.Context, id domain.SessionID, payload interface{}) (domain.PlayerHandle, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.total++
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.delay):
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return &stubPlayer{}, nil
}

func (f *fakeFactory) snapshot() (peak, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak, f.total
}

func testSettings() StreamSettings {
	return StreamSettings{
		StaggerDelay:       0,
		InitTaskDelay:      0,
		Retry:              fastRetryConfig(),
		StageTimeoutLow:    time.Minute,
		StageTimeout:       time.Minute,
		FailureThreshold:   3,
		TroubleshootPolicy: TroubleshootEvery,
	}
}

func lowTierCaps() domain.DeviceCapabilities {
	return Classify(domain.DeviceSignals{RAMGB: 1, CPUCores: 2, IsMobile: true, ConnectionType: "4g"})
}

func newTestOrchestrator(t *testing.T, factory *fakeFactory) *Orchestrator {
	t.Helper()
	o := NewOrchestrator("viewer-1", lowTierCaps(), testSettings(), factory, nil, nil, nil, zaptest.NewLogger(t).Sugar())
	t.Cleanup(o.Close)
	return o
}

func TestOrchestratorDerivesLimitsFromTier(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	require.Equal(t, 2, o.Limits().LiveSessions)
	require.Equal(t, 1, o.Limits().InitConcurrency)
}

func TestOrchestratorAdmitAttachesPlayer(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	session, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInitializing, session.Status)

	require.Eventually(t, func() bool {
		s, ok := o.Registry().Get("cam-1")
		return ok && s.Player != nil
	}, 2*time.Second, 5*time.Millisecond, "player never attached")
}

func TestOrchestratorRejectsDuplicatesAndOverCap(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.NoError(t, err)

	_, err = o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.ErrorIs(t, err, domain.ErrSessionExists)

	_, err = o.Admit(domain.StreamRequest{ID: "cam-2"}, nil)
	require.NoError(t, err)

	// Low tier live cap is two.
	_, err = o.Admit(domain.StreamRequest{ID: "cam-3"}, nil)
	require.ErrorIs(t, err, domain.ErrCapacityReached)
}

func TestOrchestratorSerializesInitsOnLowTier(t *testing.T) {
	factory := &fakeFactory{delay: 20 * time.Millisecond}
	o := newTestOrchestrator(t, factory)

	admitted, rejected := o.AdmitAll([]domain.StreamRequest{{ID: "cam-1"}, {ID: "cam-2"}})
	require.Len(t, admitted, 2)
	require.Empty(t, rejected)

	require.Eventually(t, func() bool {
		_, total := factory.snapshot()
		return total == 2
	}, 2*time.Second, 5*time.Millisecond)

	peak, _ := factory.snapshot()
	require.Equal(t, 1, peak, "low-tier inits must run one at a time")
}

func TestOrchestratorAdmitAllReportsPerStreamRejections(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	admitted, rejected := o.AdmitAll([]domain.StreamRequest{
		{ID: "cam-1"}, {ID: "cam-1"}, {ID: "cam-2"}, {ID: "cam-3"},
	})
	require.Len(t, admitted, 2)
	require.ErrorIs(t, rejected["cam-1"], domain.ErrSessionExists)
	require.ErrorIs(t, rejected["cam-3"], domain.ErrCapacityReached)
}

func TestOrchestratorReportErrorSchedulesRetry(t *testing.T) {
	factory := &fakeFactory{}
	o := newTestOrchestrator(t, factory)

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, total := factory.snapshot()
		return total == 1
	}, 2*time.Second, 5*time.Millisecond)

	decision, err := o.ReportError("cam-1", domain.ErrorNetwork)
	require.NoError(t, err)
	require.Equal(t, domain.ActionAutoRetry, decision.Action)
	require.Equal(t, 1, decision.Attempt)
	require.Equal(t, 10*time.Millisecond, decision.Delay)

	// The retry re-enters the init queue.
	require.Eventually(t, func() bool {
		_, total := factory.snapshot()
		return total == 2
	}, 2*time.Second, 5*time.Millisecond, "retry never re-initialized the session")
}

func TestOrchestratorExhaustionThenManualRetry(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.NoError(t, err)

	var decision domain.RetryDecision
	for i := 0; i < 4; i++ {
		decision, err = o.ReportError("cam-1", domain.ErrorServer)
		require.NoError(t, err)
	}
	require.Equal(t, domain.ActionManualRetryRequired, decision.Action)
	require.Equal(t, 3, decision.TotalAttempts)

	require.NoError(t, o.ManualRetry("cam-1"))

	// Manual retry restores the automatic budget.
	decision, err = o.ReportError("cam-1", domain.ErrorServer)
	require.NoError(t, err)
	require.Equal(t, domain.ActionAutoRetry, decision.Action)
	require.Equal(t, 1, decision.Attempt)
}

func TestOrchestratorRejectsUnknownErrorType(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.NoError(t, err)

	_, err = o.ReportError("cam-1", "gibberish")
	require.ErrorIs(t, err, domain.ErrInvalidErrorType)
}

func TestOrchestratorReportStagePlayingResetsBudget(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.NoError(t, err)

	decision, err := o.ReportError("cam-1", domain.ErrorNetwork)
	require.NoError(t, err)
	require.Equal(t, 1, decision.Attempt)

	// Recovery path: error -> connecting -> ... -> playing.
	require.NoError(t, o.ReportStage("cam-1", domain.StageConnecting))
	require.NoError(t, o.ReportStage("cam-1", domain.StageLoading))
	require.NoError(t, o.ReportStage("cam-1", domain.StagePlaying))

	session, ok := o.Registry().Get("cam-1")
	require.True(t, ok)
	require.Equal(t, domain.StatusPlaying, session.Status)
	require.Zero(t, session.ConsecutiveFailures)

	decision, err = o.ReportError("cam-1", domain.ErrorNetwork)
	require.NoError(t, err)
	require.Equal(t, 1, decision.Attempt, "playing must reset the retry budget")
}

func TestOrchestratorRemoveFreesCapacity(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.NoError(t, err)
	_, err = o.Admit(domain.StreamRequest{ID: "cam-2"}, nil)
	require.NoError(t, err)

	require.True(t, o.Remove("cam-1"))
	require.False(t, o.Remove("cam-1"))

	_, err = o.Admit(domain.StreamRequest{ID: "cam-3"}, nil)
	require.NoError(t, err)
}

func TestOrchestratorCloseIsIdempotentAndFinal(t *testing.T) {
	factory := &fakeFactory{}
	o := NewOrchestrator("viewer-1", lowTierCaps(), testSettings(), factory, nil, nil, nil, zaptest.NewLogger(t).Sugar())

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.NoError(t, err)

	o.Close()
	o.Close()

	require.Zero(t, o.Registry().Count())

	_, err = o.Admit(domain.StreamRequest{ID: "cam-2"}, nil)
	require.ErrorIs(t, err, domain.ErrViewerClosed)
}

func TestOrchestratorStatusSnapshot(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.NoError(t, err)

	status := o.Status()
	require.Equal(t, domain.ViewerID("viewer-1"), status.ViewerID)
	require.Equal(t, domain.TierLow, status.Capabilities.Tier)
	require.Equal(t, 2, status.LiveLimit)
	require.Equal(t, 1, status.InitLimit)
	require.Equal(t, 1, status.Count)
	require.False(t, status.AtCapacity)
	require.Len(t, status.Sessions, 1)
}

func TestOrchestratorRemoveDuringInitReleasesPlayer(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	player := &stubPlayer{}
	started := make(chan struct{})
	release := make(chan struct{})
	init := func(ctx context.Context) (domain.PlayerHandle, error) {
		close(started)
		<-release
		return player, nil
	}

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, init)
	require.NoError(t, err)

	// Remove lands while the init is in flight; the handle it resolves
	// must still be released exactly once.
	<-started
	require.True(t, o.Remove("cam-1"))
	close(release)

	require.Eventually(t, func() bool {
		return player.destroyed.Load() == 1
	}, 2*time.Second, 5*time.Millisecond, "handle resolved after removal was never destroyed")

	_, ok := o.Registry().Get("cam-1")
	require.False(t, ok)
}

func TestOrchestratorStatusSafeUnderConcurrentReports(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, nil)
	require.NoError(t, err)

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := json.Marshal(o.Status()); err != nil {
				t.Errorf("status snapshot not marshalable: %v", err)
				return
			}
		}
	}()

	var writers sync.WaitGroup
	writers.Add(2)
	go func() {
		defer writers.Done()
		stages := []domain.LoadStage{
			domain.StageConnecting, domain.StageLoading, domain.StageBuffering,
			domain.StageStarting, domain.StagePlaying,
		}
		for i := 0; i < 200; i++ {
			_ = o.ReportStage("cam-1", stages[i%len(stages)])
		}
	}()
	go func() {
		defer writers.Done()
		for i := 0; i < 200; i++ {
			_, _ = o.ReportError("cam-1", domain.ErrorNetwork)
			_ = o.ManualRetry("cam-1")
		}
	}()

	writers.Wait()
	close(stop)
	readers.Wait()
}

func TestOrchestratorInitFailureTriggersRetry(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	var calls int
	var mu sync.Mutex
	init := func(ctx context.Context) (domain.PlayerHandle, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, domain.NewTypedError(domain.ErrorNetwork, errors.New("dial refused"))
		}
		return &stubPlayer{}, nil
	}

	_, err := o.Admit(domain.StreamRequest{ID: "cam-1"}, init)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, ok := o.Registry().Get("cam-1")
		return ok && s.Player != nil
	}, 2*time.Second, 5*time.Millisecond, "failed init was never retried to success")

	s, _ := o.Registry().Get("cam-1")
	require.Equal(t, domain.ErrorNetwork, s.LastErrorType)
	require.Equal(t, 1, s.AutoRetryCount)
}
