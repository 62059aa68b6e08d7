package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
)

func TestPionEngineOfferAnswer(t *testing.T) {
	caller, err := NewPionEngine(DefaultPionEngineConfig())
	if err != nil {
		t.Fatalf("Failed to create caller engine: %v", err)
	}
	defer caller.Close()

	callee, err := NewPionEngine(DefaultPionEngineConfig())
	if err != nil {
		t.Fatalf("Failed to create callee engine: %v", err)
	}
	defer callee.Close()

	ctx := context.Background()
	if err := caller.StartCapture(ctx, CaptureVoice); err != nil {
		t.Fatalf("Caller StartCapture failed: %v", err)
	}
	if err := callee.StartCapture(ctx, CaptureVoice); err != nil {
		t.Fatalf("Callee StartCapture failed: %v", err)
	}

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if offer == "" {
		t.Fatal("Empty offer SDP")
	}

	if err := callee.SetRemoteDescription(Description{Offer: true, SDP: offer}); err != nil {
		t.Fatalf("Callee SetRemoteDescription failed: %v", err)
	}
	answer, err := callee.CreateAnswer(ctx)
	if err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}
	if err := caller.SetRemoteDescription(Description{Offer: false, SDP: answer}); err != nil {
		t.Fatalf("Caller SetRemoteDescription failed: %v", err)
	}
	// ICE connectivity is exercised separately over vnet; this verifies
	// the SDP negotiation path.
}

func TestPionEngineRequiresCapture(t *testing.T) {
	engine, err := NewPionEngine(DefaultPionEngineConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Close()

	if err := engine.SetAudioEnabled(false); !errors.Is(err, ErrCaptureNotStarted) {
		t.Errorf("Expected ErrCaptureNotStarted, got %v", err)
	}
	if _, err := engine.SwitchCamera(); !errors.Is(err, ErrCaptureNotStarted) {
		t.Errorf("Expected ErrCaptureNotStarted, got %v", err)
	}
}

func TestPionEngineCloseIsIdempotent(t *testing.T) {
	engine, err := NewPionEngine(DefaultPionEngineConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if _, err := engine.CreateOffer(context.Background()); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed, got %v", err)
	}
}

func TestPionEngineVideoToggle(t *testing.T) {
	engine, err := NewPionEngine(DefaultPionEngineConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Close()

	if err := engine.StartCapture(context.Background(), CaptureVoice); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	// Voice-only capture has no camera track to toggle.
	if err := engine.SetVideoEnabled(false); !errors.Is(err, ErrNoVideoTrack) {
		t.Errorf("Expected ErrNoVideoTrack, got %v", err)
	}
}

// TestVNetCallConnects drives two engines through a full negotiation
// over a virtual network and waits for ICE connectivity.
func TestVNetCallConnects(t *testing.T) {
	wan, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "1.2.3.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatal(err)
	}

	net1, err := vnet.NewNet(&vnet.NetConfig{StaticIP: "1.2.3.4"})
	if err != nil {
		t.Fatal(err)
	}
	if err := wan.AddNet(net1); err != nil {
		t.Fatal(err)
	}
	net2, err := vnet.NewNet(&vnet.NetConfig{StaticIP: "1.2.3.5"})
	if err != nil {
		t.Fatal(err)
	}
	if err := wan.AddNet(net2); err != nil {
		t.Fatal(err)
	}
	if err := wan.Start(); err != nil {
		t.Fatal(err)
	}
	defer wan.Stop()

	newEngineOn := func(n *vnet.Net) *PionEngine {
		se := webrtc.SettingEngine{}
		se.SetNet(n)
		api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
		engine, err := NewPionEngine(DefaultPionEngineConfig(), WithAPI(api))
		if err != nil {
			t.Fatalf("Failed to create engine: %v", err)
		}
		return engine
	}

	caller := NewNegotiator(newEngineOn(net1), DefaultNegotiatorConfig())
	defer caller.Close()
	callee := NewNegotiator(newEngineOn(net2), DefaultNegotiatorConfig())
	defer callee.Close()

	connected := make(chan struct{}, 2)
	pump := func(from, to *Negotiator) {
		for ev := range from.Events() {
			switch ev.Type {
			case NegotiatorEventCandidate:
				to.AddCandidate(ev.Candidate)
			case NegotiatorEventConnectivity:
				if ev.State == ConnectivityConnected {
					connected <- struct{}{}
					return
				}
			}
		}
	}
	go pump(caller, callee)
	go pump(callee, caller)

	ctx := context.Background()
	if err := caller.StartCapture(ctx, CaptureVoice); err != nil {
		t.Fatalf("Caller StartCapture failed: %v", err)
	}
	if err := callee.StartCapture(ctx, CaptureVoice); err != nil {
		t.Fatalf("Callee StartCapture failed: %v", err)
	}

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if err := callee.SetRemoteDescription(Description{Offer: true, SDP: offer}); err != nil {
		t.Fatalf("Callee SetRemoteDescription failed: %v", err)
	}
	answer, err := callee.CreateAnswer(ctx)
	if err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}
	if err := caller.SetRemoteDescription(Description{Offer: false, SDP: answer}); err != nil {
		t.Fatalf("Caller SetRemoteDescription failed: %v", err)
	}

	select {
	case <-connected:
		t.Log("ICE connected over virtual network")
	case <-time.After(10 * time.Second):
		t.Fatal("ICE connection timed out")
	}
}
