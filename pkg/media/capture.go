package media

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond

	// RTP clock increments per frame: Opus at 48kHz, video at 90kHz
	audioTimestampStep = 960
	videoTimestampStep = 3000

	audioPayloadType = 111
	videoPayloadType = 96
)

// opusSilence is a minimal Opus frame (TOC byte for a DTX-style frame).
// It keeps the RTP stream alive while the microphone is muted or no real
// device pipeline is attached.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

// CaptureSource stands in for the device layer: it owns the local tracks
// a call publishes and paces RTP frames onto them. A real application
// feeds encoder output through WriteAudio/WriteVideo; headless use (tests,
// the example program) relies on the built-in pacer alone.
type CaptureSource struct {
	mu sync.Mutex

	audioTrack *webrtc.TrackLocalStaticRTP
	videoTrack *webrtc.TrackLocalStaticRTP // nil for voice-only capture

	audioOn bool
	videoOn bool

	cameras []string
	camera  int

	audioSeq uint16
	audioTS  uint32
	videoSeq uint16
	videoTS  uint32
	ssrcA    uint32
	ssrcV    uint32

	log     logging.LeveledLogger
	stopCh  chan struct{}
	started bool
	closed  bool
}

// NewCaptureSource creates the local tracks for the given media kind.
func NewCaptureSource(kind CaptureKind, loggerFactory logging.LoggerFactory) (*CaptureSource, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-capture",
		"call-stream",
	)
	if err != nil {
		return nil, err
	}

	cs := &CaptureSource{
		audioTrack: audioTrack,
		audioOn:    true,
		cameras:    []string{"front", "back"},
		ssrcA:      rand.Uint32(),
		ssrcV:      rand.Uint32(),
		log:        loggerFactory.NewLogger("capture"),
		stopCh:     make(chan struct{}),
	}

	if kind == CaptureVideoAndVoice {
		videoTrack, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video-capture",
			"call-stream",
		)
		if err != nil {
			return nil, err
		}
		cs.videoTrack = videoTrack
		cs.videoOn = true
	}

	return cs, nil
}

// AudioTrack returns the microphone track.
func (cs *CaptureSource) AudioTrack() *webrtc.TrackLocalStaticRTP {
	return cs.audioTrack
}

// VideoTrack returns the camera track, nil for voice-only capture.
func (cs *CaptureSource) VideoTrack() *webrtc.TrackLocalStaticRTP {
	return cs.videoTrack
}

// Start begins pacing frames onto the tracks.
func (cs *CaptureSource) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.started || cs.closed {
		return
	}
	cs.started = true
	go cs.runLoop()
}

// runLoop paces audio (and video) frames until Close.
func (cs *CaptureSource) runLoop() {
	audioTicker := time.NewTicker(audioFrameInterval)
	defer audioTicker.Stop()

	var videoC <-chan time.Time
	if cs.videoTrack != nil {
		videoTicker := time.NewTicker(videoFrameInterval)
		defer videoTicker.Stop()
		videoC = videoTicker.C
	}

	for {
		select {
		case <-cs.stopCh:
			return
		case <-audioTicker.C:
			cs.writeAudioFrame(opusSilence)
		case <-videoC:
			cs.writeVideoFrame(nil)
		}
	}
}

// WriteAudio injects one encoded audio frame from a real device pipeline.
func (cs *CaptureSource) WriteAudio(payload []byte) error {
	return cs.writeAudioFrame(payload)
}

// WriteVideo injects one encoded video frame from a real device pipeline.
func (cs *CaptureSource) WriteVideo(payload []byte) error {
	return cs.writeVideoFrame(payload)
}

func (cs *CaptureSource) writeAudioFrame(payload []byte) error {
	cs.mu.Lock()
	if cs.closed || !cs.audioOn {
		cs.mu.Unlock()
		return nil
	}
	cs.audioSeq++
	cs.audioTS += audioTimestampStep
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    audioPayloadType,
			SequenceNumber: cs.audioSeq,
			Timestamp:      cs.audioTS,
			SSRC:           cs.ssrcA,
		},
		Payload: payload,
	}
	track := cs.audioTrack
	cs.mu.Unlock()

	if err := track.WriteRTP(pkt); err != nil {
		cs.log.Warnf("audio WriteRTP: %v", err)
		return err
	}
	return nil
}

func (cs *CaptureSource) writeVideoFrame(payload []byte) error {
	cs.mu.Lock()
	if cs.closed || !cs.videoOn || cs.videoTrack == nil {
		cs.mu.Unlock()
		return nil
	}
	cs.videoSeq++
	cs.videoTS += videoTimestampStep
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    videoPayloadType,
			SequenceNumber: cs.videoSeq,
			Timestamp:      cs.videoTS,
			SSRC:           cs.ssrcV,
		},
		Payload: payload,
	}
	track := cs.videoTrack
	cs.mu.Unlock()

	if err := track.WriteRTP(pkt); err != nil {
		cs.log.Warnf("video WriteRTP: %v", err)
		return err
	}
	return nil
}

// SetAudioEnabled gates the microphone track. Disabled tracks stop
// emitting frames but keep their RTP state.
func (cs *CaptureSource) SetAudioEnabled(enabled bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.audioOn = enabled
}

// AudioEnabled reports whether the microphone track is live.
func (cs *CaptureSource) AudioEnabled() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.audioOn
}

// SetVideoEnabled gates the camera track.
func (cs *CaptureSource) SetVideoEnabled(enabled bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.videoTrack == nil {
		return ErrNoVideoTrack
	}
	cs.videoOn = enabled
	return nil
}

// VideoEnabled reports whether the camera track is live.
func (cs *CaptureSource) VideoEnabled() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.videoOn && cs.videoTrack != nil
}

// SwitchCamera cycles to the next capture device and returns its name.
func (cs *CaptureSource) SwitchCamera() (string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.videoTrack == nil {
		return "", ErrNoVideoTrack
	}
	cs.camera = (cs.camera + 1) % len(cs.cameras)
	return cs.cameras[cs.camera], nil
}

// Close stops the pacer and releases the tracks. Idempotent.
func (cs *CaptureSource) Close() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return
	}
	cs.closed = true
	close(cs.stopCh)
}
