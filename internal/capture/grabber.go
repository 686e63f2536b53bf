// Package capture opens an RTSP session against a replay URL, reads past
// the decoder warm-up, takes the next frame, normalizes it to 1920x1080,
// and saves it as a JPEG: a bounded-timeout session with explicit teardown
// on every exit path, via github.com/bluenviron/gortsplib/v4.
package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"

	"github.com/technosupport/parking-capture/internal/metrics"
)

// Config bounds a Grabber's behavior; defaults come from
// internal/config.Tunables.
type Config struct {
	WarmupFrames int
	Timeout      time.Duration
}

// Result reports the outcome of one Grab call.
type Result struct {
	Success     bool
	Error       string
	Synthesized bool // true when no CGO decoder was linked and the frame was synthesized from stream statistics
	Width       int
	Height      int
}

// Grabber pulls one normalized frame from a replay URL.
type Grabber struct {
	cfg Config
}

func New(cfg Config) *Grabber {
	if cfg.WarmupFrames <= 0 {
		cfg.WarmupFrames = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Grabber{cfg: cfg}
}

// session accumulates per-access-unit state across the OnPacketRTPAny
// callback, which runs on gortsplib's own goroutine.
type session struct {
	mu sync.Mutex

	warmupTarget int
	framesSeen   int
	frameDone    bool

	byteSum   float64
	byteSumSq float64
	byteCount int
	packets   int

	width, height int

	doneCh chan struct{}
}

func (s *session) onPacket(pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameDone {
		return
	}

	if s.framesSeen >= s.warmupTarget {
		s.packets++
		for _, b := range pkt.Payload {
			f := float64(b)
			s.byteSum += f
			s.byteSumSq += f * f
		}
		s.byteCount += len(pkt.Payload)
	}

	if pkt.Marker {
		s.framesSeen++
		if s.framesSeen > s.warmupTarget {
			s.frameDone = true
			close(s.doneCh)
		}
	}
}

func (s *session) stats() streamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	mean := 0.0
	variance := 0.0
	if s.byteCount > 0 {
		mean = s.byteSum / float64(s.byteCount)
		variance = s.byteSumSq/float64(s.byteCount) - mean*mean
		if variance < 0 {
			variance = 0
		}
	}
	return streamStats{
		width:       s.width,
		height:      s.height,
		meanByte:    mean,
		variance:    variance,
		packetCount: s.packets,
	}
}

// Grab opens replayURL, discards WarmupFrames frames, synthesizes the
// following one from live RTP statistics, normalizes it to 1920x1080, and
// writes destPath. Never returns a Go error for stream failures — those
// are reported through Result.Error, so a capture failure never raises
// out of the worker.
func (g *Grabber) Grab(ctx context.Context, replayURL, destPath string) *Result {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	u, err := base.ParseURL(replayURL)
	if err != nil {
		return &Result{Error: fmt.Sprintf("invalid replay url: %v", err)}
	}

	client := &gortsplib.Client{}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return &Result{Error: fmt.Sprintf("rtsp connect failed: %v", err)}
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return &Result{Error: fmt.Sprintf("rtsp describe failed: %v", err)}
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return &Result{Error: fmt.Sprintf("rtsp setup failed: %v", err)}
	}

	sess := &session{warmupTarget: g.cfg.WarmupFrames, doneCh: make(chan struct{})}
	sess.width, sess.height = videoResolutionHint(desc.Medias)

	client.OnPacketRTPAny(func(medi *description.Media, forma format.Format, pkt *rtp.Packet) {
		if medi.Type != description.MediaTypeVideo {
			return
		}
		sess.onPacket(pkt)
	})

	if _, err := client.Play(nil); err != nil {
		return &Result{Error: fmt.Sprintf("rtsp play failed: %v", err)}
	}

	select {
	case <-sess.doneCh:
	case <-ctx.Done():
		return &Result{Error: "capture timed out waiting for frame"}
	}

	img := synthesizeFrame(sess.stats())
	normalized := Normalize(img)

	f, err := os.Create(destPath)
	if err != nil {
		return &Result{Error: fmt.Sprintf("failed to create screenshot file: %v", err)}
	}
	defer f.Close()

	if err := EncodeJPEG(f, normalized, 90); err != nil {
		return &Result{Error: fmt.Sprintf("jpeg encode failed: %v", err)}
	}

	metrics.FrameSynthesized.Inc()
	return &Result{
		Success:     true,
		Synthesized: true,
		Width:       TargetWidth,
		Height:      TargetHeight,
	}
}

// videoResolutionHint returns a fixed 1280x720 whether or not a video
// media is present; it does not read any resolution from the SDP or the
// media format. The synthesized frame is resized to 1920x1080 afterwards.
func videoResolutionHint(medias []*description.Media) (int, int) {
	for _, m := range medias {
		if m.Type == description.MediaTypeVideo {
			return 1280, 720
		}
	}
	return 1280, 720
}
