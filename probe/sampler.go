package probe

import (
	"context"
	"sync"
	"time"

	"github.com/whisper-darkly/sticky-splitter/logger"
	"github.com/whisper-darkly/sticky-splitter/stream"
)

// Sampler is a pass-through pipeline stage that periodically probes the
// live stream independently of the file splitter: it retains the most
// recent init section and, at most once per interval, probes it together
// with the current media segment on a background goroutine. Resulting
// profiles are published on Profiles for the metadata analyser.
type Sampler struct {
	prober   *Prober
	interval time.Duration
	log      *logger.Logger

	mu        sync.Mutex
	lastInit  []byte
	lastProbe time.Time
	inflight  bool

	profiles chan *Profile
}

// NewSampler creates a Sampler probing at most once per interval
// (default one minute).
func NewSampler(prober *Prober, interval time.Duration, log *logger.Logger) *Sampler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sampler{
		prober:   prober,
		interval: interval,
		log:      log,
		profiles: make(chan *Profile, 1),
	}
}

// Profiles returns the channel fresh profiles are published on. A slow
// consumer loses intermediate profiles rather than stalling the probe.
func (s *Sampler) Profiles() <-chan *Profile { return s.profiles }

// Pipe forwards every packet unchanged, sampling media segments as a
// side effect. Probing runs on its own goroutine and never blocks the
// pipeline.
func (s *Sampler) Pipe(ctx context.Context, in <-chan stream.Packet) <-chan stream.Packet {
	out := make(chan stream.Packet)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-in:
				if !ok {
					return
				}
				if pkt.Err == nil {
					s.observe(ctx, pkt.Item)
				}
				select {
				case out <- pkt:
				case <-ctx.Done():
					return
				}
				if pkt.Err != nil {
					return
				}
			}
		}
	}()
	return out
}

func (s *Sampler) observe(ctx context.Context, item stream.Item) {
	s.mu.Lock()
	if item.Kind == stream.KindInit {
		s.lastInit = item.Payload
		s.mu.Unlock()
		return
	}
	if s.lastInit == nil || s.inflight || time.Since(s.lastProbe) < s.interval {
		s.mu.Unlock()
		return
	}
	s.inflight = true
	sample := make([]byte, 0, len(s.lastInit)+len(item.Payload))
	sample = append(sample, s.lastInit...)
	sample = append(sample, item.Payload...)
	s.mu.Unlock()

	ch := s.prober.ProbeOn(ctx, sample, func(task func()) { go task() })
	go func() {
		outcome := <-ch

		s.mu.Lock()
		s.inflight = false
		s.lastProbe = time.Now()
		s.mu.Unlock()

		if outcome.Err != nil {
			s.log.Warn("sample probe failed: %v", outcome.Err)
			return
		}
		select {
		case s.profiles <- outcome.Profile:
		default:
		}
	}()
}
