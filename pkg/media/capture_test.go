package media

import (
	"errors"
	"testing"

	"github.com/pion/logging"
)

func TestCaptureVoiceOnlyHasNoVideo(t *testing.T) {
	cs, err := NewCaptureSource(CaptureVoice, logging.NewDefaultLoggerFactory())
	if err != nil {
		t.Fatalf("Failed to create capture source: %v", err)
	}
	defer cs.Close()

	if cs.AudioTrack() == nil {
		t.Fatal("Audio track missing")
	}
	if cs.VideoTrack() != nil {
		t.Fatal("Voice capture should not own a camera track")
	}
	if err := cs.SetVideoEnabled(false); !errors.Is(err, ErrNoVideoTrack) {
		t.Errorf("Expected ErrNoVideoTrack, got %v", err)
	}
	if _, err := cs.SwitchCamera(); !errors.Is(err, ErrNoVideoTrack) {
		t.Errorf("Expected ErrNoVideoTrack, got %v", err)
	}
}

func TestCaptureToggles(t *testing.T) {
	cs, err := NewCaptureSource(CaptureVideoAndVoice, logging.NewDefaultLoggerFactory())
	if err != nil {
		t.Fatalf("Failed to create capture source: %v", err)
	}
	defer cs.Close()

	if !cs.AudioEnabled() || !cs.VideoEnabled() {
		t.Fatal("Tracks should start enabled")
	}
	cs.SetAudioEnabled(false)
	if cs.AudioEnabled() {
		t.Error("Audio still enabled after mute")
	}
	if err := cs.SetVideoEnabled(false); err != nil {
		t.Fatalf("SetVideoEnabled failed: %v", err)
	}
	if cs.VideoEnabled() {
		t.Error("Video still enabled after toggle")
	}
}

func TestCaptureCameraCycles(t *testing.T) {
	cs, err := NewCaptureSource(CaptureVideoAndVoice, logging.NewDefaultLoggerFactory())
	if err != nil {
		t.Fatalf("Failed to create capture source: %v", err)
	}
	defer cs.Close()

	first, err := cs.SwitchCamera()
	if err != nil {
		t.Fatalf("SwitchCamera failed: %v", err)
	}
	second, err := cs.SwitchCamera()
	if err != nil {
		t.Fatalf("SwitchCamera failed: %v", err)
	}
	if first == second {
		t.Errorf("Camera did not cycle: %q then %q", first, second)
	}
}

func TestCaptureCloseIsIdempotent(t *testing.T) {
	cs, err := NewCaptureSource(CaptureVoice, logging.NewDefaultLoggerFactory())
	if err != nil {
		t.Fatalf("Failed to create capture source: %v", err)
	}
	cs.Start()
	cs.Close()
	cs.Close()

	// Writes after close are silently ignored.
	if err := cs.WriteAudio(opusSilence); err != nil {
		t.Errorf("Write after close should be a no-op, got %v", err)
	}
}
