package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeEngine records every call so tests can assert ordering.
type fakeEngine struct {
	mu sync.Mutex

	captureKind    *CaptureKind
	remoteDescs    []Description
	applied        []Candidate
	audioEnabled   []bool
	videoEnabled   []bool
	closeCount     int
	candidateErr   error
	remoteDescErr  error
	onCandidate    func(Candidate)
	onConnectivity func(ConnectivityState)
}

func (e *fakeEngine) StartCapture(_ context.Context, kind CaptureKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.captureKind = &kind
	return nil
}

func (e *fakeEngine) CreateOffer(context.Context) (string, error)  { return "offer-sdp", nil }
func (e *fakeEngine) CreateAnswer(context.Context) (string, error) { return "answer-sdp", nil }

func (e *fakeEngine) SetRemoteDescription(desc Description) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remoteDescErr != nil {
		return e.remoteDescErr
	}
	e.remoteDescs = append(e.remoteDescs, desc)
	return nil
}

func (e *fakeEngine) AddICECandidate(c Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.candidateErr != nil {
		return e.candidateErr
	}
	e.applied = append(e.applied, c)
	return nil
}

func (e *fakeEngine) SetAudioEnabled(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioEnabled = append(e.audioEnabled, enabled)
	return nil
}

func (e *fakeEngine) SetVideoEnabled(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoEnabled = append(e.videoEnabled, enabled)
	return nil
}

func (e *fakeEngine) SwitchCamera() (string, error) { return "back", nil }

func (e *fakeEngine) OnLocalCandidate(fn func(Candidate))             { e.onCandidate = fn }
func (e *fakeEngine) OnConnectivityChange(fn func(ConnectivityState)) { e.onConnectivity = fn }

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeCount++
	return nil
}

func (e *fakeEngine) appliedCandidates() []Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Candidate(nil), e.applied...)
}

func TestNegotiatorBuffersEarlyCandidates(t *testing.T) {
	engine := &fakeEngine{}
	n := NewNegotiator(engine, DefaultNegotiatorConfig())
	defer n.Close()

	// Candidates arrive before the remote description.
	for _, sdp := range []string{"cand-1", "cand-2", "cand-3"} {
		if err := n.AddCandidate(Candidate{SDP: sdp}); err != nil {
			t.Fatalf("AddCandidate failed: %v", err)
		}
	}
	if got := engine.appliedCandidates(); len(got) != 0 {
		t.Fatalf("Expected no candidates applied before remote description, got %d", len(got))
	}

	if err := n.SetRemoteDescription(Description{Offer: true, SDP: "remote-offer"}); err != nil {
		t.Fatalf("SetRemoteDescription failed: %v", err)
	}

	got := engine.appliedCandidates()
	if len(got) != 3 {
		t.Fatalf("Expected 3 flushed candidates, got %d", len(got))
	}
	for i, sdp := range []string{"cand-1", "cand-2", "cand-3"} {
		if got[i].SDP != sdp {
			t.Errorf("Flush order broken at %d: expected %s, got %s", i, sdp, got[i].SDP)
		}
	}
}

func TestNegotiatorAppliesLateCandidatesDirectly(t *testing.T) {
	engine := &fakeEngine{}
	n := NewNegotiator(engine, DefaultNegotiatorConfig())
	defer n.Close()

	if err := n.SetRemoteDescription(Description{Offer: false, SDP: "remote-answer"}); err != nil {
		t.Fatalf("SetRemoteDescription failed: %v", err)
	}
	if err := n.AddCandidate(Candidate{SDP: "cand-late"}); err != nil {
		t.Fatalf("AddCandidate failed: %v", err)
	}

	got := engine.appliedCandidates()
	if len(got) != 1 || got[0].SDP != "cand-late" {
		t.Fatalf("Expected the late candidate applied immediately, got %v", got)
	}
}

func TestNegotiatorSurvivesBadBufferedCandidate(t *testing.T) {
	engine := &fakeEngine{candidateErr: errors.New("bad candidate")}
	n := NewNegotiator(engine, DefaultNegotiatorConfig())
	defer n.Close()

	n.AddCandidate(Candidate{SDP: "cand-1"})
	if err := n.SetRemoteDescription(Description{Offer: true, SDP: "remote"}); err != nil {
		t.Fatalf("A rejected buffered candidate must not fail the description: %v", err)
	}
}

func TestNegotiatorCloseIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	n := NewNegotiator(engine, DefaultNegotiatorConfig())

	if err := n.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if engine.closeCount != 1 {
		t.Errorf("Expected engine closed exactly once, got %d", engine.closeCount)
	}

	if err := n.AddCandidate(Candidate{SDP: "x"}); !errors.Is(err, ErrNegotiatorClosed) {
		t.Errorf("Expected ErrNegotiatorClosed, got %v", err)
	}
	if _, err := n.CreateOffer(context.Background()); !errors.Is(err, ErrNegotiatorClosed) {
		t.Errorf("Expected ErrNegotiatorClosed, got %v", err)
	}
}

func TestNegotiatorForwardsEngineEvents(t *testing.T) {
	engine := &fakeEngine{}
	n := NewNegotiator(engine, DefaultNegotiatorConfig())
	defer n.Close()

	engine.onCandidate(Candidate{SDP: "local-cand"})
	engine.onConnectivity(ConnectivityConnected)

	for i := 0; i < 2; i++ {
		select {
		case ev := <-n.Events():
			switch ev.Type {
			case NegotiatorEventCandidate:
				if ev.Candidate.SDP != "local-cand" {
					t.Errorf("Unexpected candidate: %s", ev.Candidate.SDP)
				}
			case NegotiatorEventConnectivity:
				if ev.State != ConnectivityConnected {
					t.Errorf("Unexpected state: %s", ev.State)
				}
			}
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for negotiator event")
		}
	}
}

func TestNegotiatorPassthrough(t *testing.T) {
	engine := &fakeEngine{}
	n := NewNegotiator(engine, DefaultNegotiatorConfig())
	defer n.Close()

	if err := n.StartCapture(context.Background(), CaptureVideoAndVoice); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if engine.captureKind == nil || *engine.captureKind != CaptureVideoAndVoice {
		t.Error("Capture kind not forwarded")
	}

	if err := n.SetAudioEnabled(false); err != nil {
		t.Fatalf("SetAudioEnabled failed: %v", err)
	}
	if len(engine.audioEnabled) != 1 || engine.audioEnabled[0] != false {
		t.Error("SetAudioEnabled not forwarded")
	}

	camera, err := n.SwitchCamera()
	if err != nil || camera != "back" {
		t.Errorf("SwitchCamera: got %q, %v", camera, err)
	}
}
