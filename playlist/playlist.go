package playlist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/grafov/m3u8"

	"github.com/whisper-darkly/sticky-splitter/logger"
	"github.com/whisper-darkly/sticky-splitter/stream"
)

type entry struct {
	uri      string
	duration float64
}

// Dumper maintains the index playlist of completed output files and the
// running duration of the recording. It observes media-segment durations
// as a pass-through stage and is notified of file rotation through the
// splitter's hooks.
type Dumper struct {
	path string
	log  *logger.Logger

	mu      sync.Mutex
	total   float64 // recorded seconds across the whole session
	current float64 // seconds accumulated into the open output file
	files   []entry
}

// New creates a Dumper writing the index to path. An empty path disables
// index writing; duration accounting still runs.
func New(path string, log *logger.Logger) *Dumper {
	return &Dumper{path: path, log: log}
}

// Duration returns the total recorded seconds so far.
func (d *Dumper) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// Pipe forwards every packet unchanged, accumulating media-segment
// durations as a side effect. Accounting restarts when a new session
// begins.
func (d *Dumper) Pipe(ctx context.Context, in <-chan stream.Packet) <-chan stream.Packet {
	out := make(chan stream.Packet)
	go func() {
		defer close(out)

		d.mu.Lock()
		d.total, d.current = 0, 0
		d.files = nil
		d.mu.Unlock()

		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-in:
				if !ok {
					return
				}
				if pkt.Err == nil && pkt.Item.Kind == stream.KindMedia && pkt.Item.Chunk != nil {
					d.mu.Lock()
					d.total += pkt.Item.Chunk.Duration
					d.current += pkt.Item.Chunk.Duration
					d.mu.Unlock()
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

// FileOpened is wired to the splitter's OnFileOpened hook.
func (d *Dumper) FileOpened(path string, timestamp int64) {
	d.mu.Lock()
	d.current = 0
	d.mu.Unlock()
}

// FileClosed is wired to the splitter's OnFileClosed hook: the finished
// file is appended to the index, which is rewritten on disk.
func (d *Dumper) FileClosed(path string) {
	d.mu.Lock()
	d.files = append(d.files, entry{uri: filepath.Base(path), duration: d.current})
	d.current = 0
	d.mu.Unlock()

	if err := d.write(false); err != nil {
		d.log.Warn("write index playlist: %v", err)
	}
}

// Finalize rewrites the index one last time with an end-of-list marker.
func (d *Dumper) Finalize() error {
	return d.write(true)
}

func (d *Dumper) write(done bool) error {
	if d.path == "" {
		return nil
	}

	d.mu.Lock()
	files := make([]entry, len(d.files))
	copy(files, d.files)
	d.mu.Unlock()

	if len(files) == 0 {
		return nil
	}

	pl, err := m3u8.NewMediaPlaylist(0, uint(len(files)))
	if err != nil {
		return fmt.Errorf("new media playlist: %w", err)
	}
	pl.MediaType = m3u8.EVENT
	for _, e := range files {
		if err := pl.Append(e.uri, e.duration, ""); err != nil {
			return fmt.Errorf("append %s: %w", e.uri, err)
		}
	}
	if done {
		pl.Close()
	}

	return os.WriteFile(d.path, pl.Encode().Bytes(), 0644)
}
