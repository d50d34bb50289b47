package analyser

import (
	"context"
	"sync"

	"github.com/whisper-darkly/sticky-splitter/probe"
	"github.com/whisper-darkly/sticky-splitter/stream"
)

// Metadata is a point-in-time snapshot of the ongoing recording.
type Metadata struct {
	Duration float64 // recorded seconds, from the playlist component
	Filesize int64   // bytes written to the current output file
	Width    int
	Height   int
}

// Analyser caches the most recently probed codec parameters and combines
// them with duration and size from its collaborators into on-demand
// metadata snapshots. Each received profile fully replaces the cache.
type Analyser struct {
	duration func() float64
	filesize func() int64

	mu         sync.Mutex
	width      int
	height     int
	hasAudio   bool
	sampleRate string
	channels   int
}

// New creates an Analyser reading duration and filesize through the
// given accessors whenever a snapshot is taken.
func New(duration func() float64, filesize func() int64) *Analyser {
	return &Analyser{duration: duration, filesize: filesize}
}

// Watch consumes profiles for the lifetime of the channel, overwriting
// the cached parameters with each one.
func (a *Analyser) Watch(profiles <-chan *probe.Profile) {
	go func() {
		for p := range profiles {
			a.update(p)
		}
	}()
}

// Pipe forwards every packet unchanged. Its only effect is resetting the
// cached parameters when a session starts and again when it terminates,
// so no values leak across sessions.
func (a *Analyser) Pipe(ctx context.Context, in <-chan stream.Packet) <-chan stream.Packet {
	out := make(chan stream.Packet)
	go func() {
		defer close(out)
		defer a.reset()
		a.reset()

		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-in:
				if !ok {
					return
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

// Metadata returns a snapshot of the current recording.
func (a *Analyser) Metadata() Metadata {
	a.mu.Lock()
	width, height := a.width, a.height
	a.mu.Unlock()

	return Metadata{
		Duration: a.duration(),
		Filesize: a.filesize(),
		Width:    width,
		Height:   height,
	}
}

// AudioParams returns the cached audio parameters; ok is false when the
// last profile carried no genuine audio stream. These are tracked but
// not part of the Metadata snapshot.
func (a *Analyser) AudioParams() (sampleRate string, channels int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sampleRate, a.channels, a.hasAudio
}

func (a *Analyser) update(p *probe.Profile) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if v := p.FirstVideo(); v != nil && !v.Missing() {
		a.width, a.height = v.Width, v.Height
	} else {
		a.width, a.height = 0, 0
	}

	if au := p.FirstAudio(); au != nil && !au.Missing() {
		a.hasAudio = true
		a.sampleRate = au.SampleRate
		a.channels = au.Channels
	} else {
		a.hasAudio = false
		a.sampleRate = ""
		a.channels = 0
	}
}

func (a *Analyser) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.width, a.height = 0, 0
	a.hasAudio = false
	a.sampleRate = ""
	a.channels = 0
}
