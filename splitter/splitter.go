package splitter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/whisper-darkly/sticky-splitter/logger"
	"github.com/whisper-darkly/sticky-splitter/probe"
	"github.com/whisper-darkly/sticky-splitter/stream"
)

// Extension is the fixed suffix of fragmented-media output files.
const Extension = ".m4s"

// PathProvider names the next output file. It returns the base path
// (the splitter normalizes the extension) and the timestamp to associate
// with the file.
type PathProvider func() (base string, timestamp int64)

// Config holds the splitter's collaborators.
//
// The hooks fire while the splitter holds its internal lock and must not
// call back into it.
type Config struct {
	PathProvider PathProvider
	Prober       *probe.Prober

	OnFileOpened func(path string, timestamp int64)
	OnFileClosed func(path string)

	Log *logger.Logger
}

// Splitter owns the single active output file of a recording session:
// it decides when to start a new file, splices the retained init section
// into each new file, annotates forwarded items with their write offset
// and tracks the cumulative size of the current file.
//
// A Splitter supports one active session at a time.
type Splitter struct {
	cfg Config
	log *logger.Logger

	mu       sync.Mutex
	path     string
	file     *os.File
	filesize int64
	lastInit *stream.Item
}

// New creates a Splitter.
func New(cfg Config) *Splitter {
	return &Splitter{cfg: cfg, log: cfg.Log}
}

// Path returns the path of the current output file ("" when none).
func (s *Splitter) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Filesize returns the bytes written to the current output file so far.
// It resets to zero on every rotation.
func (s *Splitter) Filesize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filesize
}

// FileOpen reports whether an output file is currently open.
func (s *Splitter) FileOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file != nil
}

// Pipe consumes the upstream packet stream and re-emits every written
// item annotated with its byte offset. On upstream completion, upstream
// error, write failure or context cancellation the open file is closed
// and all session state cleared before the output channel terminates.
func (s *Splitter) Pipe(ctx context.Context, in <-chan stream.Packet) <-chan stream.Packet {
	out := make(chan stream.Packet)
	go func() {
		defer close(out)
		defer s.Cancel()
		s.Cancel() // fresh state at session start

		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-in:
				if !ok {
					return
				}
				if pkt.Err != nil {
					s.Cancel()
					send(ctx, out, pkt)
					return
				}
				items, err := s.Process(pkt.Item)
				if err != nil {
					send(ctx, out, stream.Packet{Err: err})
					return
				}
				for _, it := range items {
					if !send(ctx, out, stream.Packet{Item: it}) {
						return
					}
				}
			}
		}
	}()
	return out
}

// Cancel synchronously closes the open output file and clears all
// session state, including the retained init section. Idempotent, and
// serialized against in-flight Process calls.
func (s *Splitter) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFile()
	s.reset()
	s.lastInit = nil
}

// Process applies the rotation algorithm to one item and returns the
// written items (each annotated with its offset), in write order. A
// dropped redundant init section yields no output and no error. Any
// write failure closes the file, clears state and is terminal for the
// session.
func (s *Splitter) Process(item stream.Item) ([]stream.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	split := false
	if item.Kind == stream.KindInit {
		if s.lastInit != nil && bytes.Equal(item.Payload, s.lastInit.Payload) {
			s.log.Debug("dropping redundant init section (seq %d)", seq(item))
			return nil, nil
		}
		split = s.mustSplit(item)
		retained := item
		s.lastInit = &retained
	}

	if !split {
		split = item.ForceSplit()
	}

	if split {
		s.closeFile()
		s.reset()
		if err := s.openFile(); err != nil {
			s.reset()
			return nil, err
		}
	}

	var out []stream.Item

	if split && item.Kind != stream.KindInit {
		// Rotation was forced by a media chunk: the new file must still
		// begin with the retained init section.
		if s.lastInit == nil {
			err := fmt.Errorf("forced split at seq %d before any init section", seq(item))
			s.closeFile()
			s.reset()
			return nil, err
		}
		init := *s.lastInit
		offset, n, err := s.write(init.Payload)
		if err != nil {
			s.closeFile()
			s.reset()
			return nil, err
		}
		s.filesize += n
		init.Offset = offset
		out = append(out, init)
	}

	offset, n, err := s.write(item.Payload)
	if err != nil {
		s.closeFile()
		s.reset()
		return nil, err
	}
	s.filesize += n
	item.Offset = offset
	out = append(out, item)
	return out, nil
}

// mustSplit decides whether a fresh, non-redundant init section requires
// a new output file. It always does: the previous and current sections
// are probed and compared purely so parameter changes show up in the
// log.
func (s *Splitter) mustSplit(curr stream.Item) bool {
	if s.lastInit == nil || len(s.lastInit.Payload) == 0 {
		if _, err := s.cfg.Prober.Probe(context.Background(), curr.Payload); err != nil {
			s.log.Warn("probe init section: %v", err)
		}
		return true
	}

	prevProfile, err := s.cfg.Prober.Probe(context.Background(), s.lastInit.Payload)
	if err != nil {
		s.log.Warn("probe previous init section: %v", err)
		return true
	}
	currProfile, err := s.cfg.Prober.Probe(context.Background(), curr.Payload)
	if err != nil {
		s.log.Warn("probe current init section: %v", err)
		return true
	}

	prevVideo, currVideo := prevProfile.FirstVideo(), currProfile.FirstVideo()
	if prevVideo.CodecName != currVideo.CodecName ||
		prevVideo.Width != currVideo.Width ||
		prevVideo.Height != currVideo.Height ||
		prevVideo.CodedWidth != currVideo.CodedWidth ||
		prevVideo.CodedHeight != currVideo.CodedHeight {
		s.log.Warn("video parameters changed: %s %dx%d -> %s %dx%d",
			prevVideo.CodecName, prevVideo.Width, prevVideo.Height,
			currVideo.CodecName, currVideo.Width, currVideo.Height)
	}

	prevAudio, currAudio := prevProfile.FirstAudio(), currProfile.FirstAudio()
	if prevAudio.CodecName != currAudio.CodecName ||
		prevAudio.Channels != currAudio.Channels ||
		prevAudio.SampleRate != currAudio.SampleRate ||
		prevAudio.BitRate != currAudio.BitRate {
		s.log.Warn("audio parameters changed: %s %sHz ch%d -> %s %sHz ch%d",
			prevAudio.CodecName, prevAudio.SampleRate, prevAudio.Channels,
			currAudio.CodecName, currAudio.SampleRate, currAudio.Channels)
	}

	return true
}

func (s *Splitter) reset() {
	s.path = ""
	s.file = nil
	s.filesize = 0
}

func (s *Splitter) openFile() error {
	base, timestamp := s.cfg.PathProvider()
	path := withExtension(base)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}

	s.path = path
	s.file = f
	s.log.Debug("opened file: %s", path)
	if s.cfg.OnFileOpened != nil {
		s.cfg.OnFileOpened(path, timestamp)
	}
	return nil
}

func (s *Splitter) closeFile() {
	if s.file == nil {
		return
	}
	path := s.path
	if err := s.file.Close(); err != nil {
		s.log.Warn("close %s: %v", path, err)
	}
	s.file = nil
	s.log.Debug("closed file: %s", path)
	if s.cfg.OnFileClosed != nil {
		s.cfg.OnFileClosed(path)
	}
}

func (s *Splitter) write(payload []byte) (offset int64, n int64, err error) {
	if s.file == nil {
		return 0, 0, fmt.Errorf("no open output file")
	}
	offset, err = s.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, fmt.Errorf("write %s: %w", s.path, err)
	}
	wrote, err := s.file.Write(payload)
	if err != nil {
		return 0, 0, fmt.Errorf("write %s: %w", s.path, err)
	}
	return offset, int64(wrote), nil
}

// withExtension normalizes the provided base path to the fixed
// fragmented-media suffix.
func withExtension(base string) string {
	if old := filepath.Ext(base); old != "" {
		base = strings.TrimSuffix(base, old)
	}
	return base + Extension
}

func seq(item stream.Item) uint64 {
	if item.Chunk == nil {
		return 0
	}
	return item.Chunk.Sequence
}

func send(ctx context.Context, out chan<- stream.Packet, pkt stream.Packet) bool {
	select {
	case out <- pkt:
		return true
	case <-ctx.Done():
		return false
	}
}
