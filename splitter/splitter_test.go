package splitter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whisper-darkly/sticky-splitter/logger"
	"github.com/whisper-darkly/sticky-splitter/probe"
	"github.com/whisper-darkly/sticky-splitter/stream"
)

func fakeProber() *probe.Prober {
	return &probe.Prober{
		Timeout: 5 * time.Second,
		Command: []string{"sh", "-c", `cat >/dev/null; printf '{"streams":[],"format":{}}'`},
	}
}

type events struct {
	opened []string
	closed []string
}

func newTestSplitter(t *testing.T) (*Splitter, *events) {
	t.Helper()
	dir := t.TempDir()

	n := 0
	ev := &events{}
	s := New(Config{
		PathProvider: func() (string, int64) {
			base := filepath.Join(dir, fmt.Sprintf("out_%03d", n))
			n++
			return base, int64(1700000000 + n)
		},
		Prober:       fakeProber(),
		OnFileOpened: func(path string, _ int64) { ev.opened = append(ev.opened, path) },
		OnFileClosed: func(path string) { ev.closed = append(ev.closed, path) },
		Log:          logger.New(logger.LevelFatal),
	})
	return s, ev
}

func initItem(payload string) stream.Item {
	return stream.NewInitSection([]byte(payload), &stream.Chunk{})
}

func mediaItem(payload string, forceSplit bool) stream.Item {
	return stream.NewMediaSegment([]byte(payload), &stream.Chunk{ForceSplit: forceSplit})
}

func TestSingleFile(t *testing.T) {
	s, ev := newTestSplitter(t)

	out1, err := s.Process(initItem("INIT-A"))
	require.NoError(t, err)
	require.Len(t, out1, 1)
	require.Equal(t, int64(0), out1[0].Offset)

	out2, err := s.Process(mediaItem("SEG-1", false))
	require.NoError(t, err)
	require.Len(t, out2, 1)
	require.Equal(t, int64(len("INIT-A")), out2[0].Offset)

	out3, err := s.Process(mediaItem("SEG-2", false))
	require.NoError(t, err)
	require.Equal(t, int64(len("INIT-A")+len("SEG-1")), out3[0].Offset)

	require.Len(t, ev.opened, 1)
	require.Empty(t, ev.closed)
	require.Equal(t, int64(len("INIT-A")+len("SEG-1")+len("SEG-2")), s.Filesize())
	require.True(t, s.FileOpen())

	s.Cancel()
	require.False(t, s.FileOpen())
	require.Len(t, ev.closed, 1)
	require.Equal(t, ev.opened[0], ev.closed[0])
	require.Zero(t, s.Filesize())
	require.Empty(t, s.Path())

	data, err := os.ReadFile(ev.opened[0])
	require.NoError(t, err)
	require.Equal(t, "INIT-ASEG-1SEG-2", string(data))
}

func TestForcedSplitSplicesInit(t *testing.T) {
	s, ev := newTestSplitter(t)

	_, err := s.Process(initItem("INIT-A"))
	require.NoError(t, err)
	_, err = s.Process(mediaItem("SEG-1", false))
	require.NoError(t, err)

	// forced split: the new file must begin with the retained init
	// section, forwarded again with its new offset
	out, err := s.Process(mediaItem("SEG-2", true))
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, stream.KindInit, out[0].Kind)
	require.Equal(t, int64(0), out[0].Offset)
	require.Equal(t, stream.KindMedia, out[1].Kind)
	require.Equal(t, int64(len("INIT-A")), out[1].Offset)

	_, err = s.Process(mediaItem("SEG-3", false))
	require.NoError(t, err)

	require.Len(t, ev.opened, 2)
	require.Len(t, ev.closed, 1)
	require.Equal(t, int64(len("INIT-A")+len("SEG-2")+len("SEG-3")), s.Filesize())

	s.Cancel()

	first, err := os.ReadFile(ev.opened[0])
	require.NoError(t, err)
	require.Equal(t, "INIT-ASEG-1", string(first))

	second, err := os.ReadFile(ev.opened[1])
	require.NoError(t, err)
	require.Equal(t, "INIT-ASEG-2SEG-3", string(second))
}

func TestRedundantInitDropped(t *testing.T) {
	s, ev := newTestSplitter(t)

	_, err := s.Process(initItem("INIT-A"))
	require.NoError(t, err)

	out, err := s.Process(initItem("INIT-A"))
	require.NoError(t, err)
	require.Empty(t, out)

	_, err = s.Process(mediaItem("SEG-1", false))
	require.NoError(t, err)

	require.Len(t, ev.opened, 1)
	require.Empty(t, ev.closed)

	s.Cancel()
	data, err := os.ReadFile(ev.opened[0])
	require.NoError(t, err)
	require.Equal(t, "INIT-ASEG-1", string(data))
}

func TestChangedInitRotates(t *testing.T) {
	s, ev := newTestSplitter(t)

	_, err := s.Process(initItem("INIT-A"))
	require.NoError(t, err)
	_, err = s.Process(mediaItem("SEG-1", false))
	require.NoError(t, err)

	// a distinct init section always starts a new file and becomes the
	// retained reference
	out, err := s.Process(initItem("INIT-B"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(0), out[0].Offset)

	_, err = s.Process(mediaItem("SEG-2", false))
	require.NoError(t, err)

	s.Cancel()
	require.Len(t, ev.opened, 2)

	second, err := os.ReadFile(ev.opened[1])
	require.NoError(t, err)
	require.Equal(t, "INIT-BSEG-2", string(second))
}

func TestOpenFailureAborts(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	s := New(Config{
		// parent of the target path is a regular file: open must fail
		PathProvider: func() (string, int64) { return filepath.Join(blocker, "out"), 0 },
		Prober:       fakeProber(),
		Log:          logger.New(logger.LevelFatal),
	})

	_, err := s.Process(initItem("INIT-A"))
	require.Error(t, err)
	require.False(t, s.FileOpen())
	require.Zero(t, s.Filesize())
}

func TestWriteFailureAborts(t *testing.T) {
	s, ev := newTestSplitter(t)

	_, err := s.Process(initItem("INIT-A"))
	require.NoError(t, err)
	require.Len(t, ev.opened, 1)

	// fail the next write by closing the handle out from under the
	// splitter
	s.mu.Lock()
	require.NoError(t, s.file.Close())
	s.mu.Unlock()

	_, err = s.Process(mediaItem("SEG-1", false))
	require.Error(t, err)

	// a write failure is terminal: file closed, state cleared
	require.False(t, s.FileOpen())
	require.Zero(t, s.Filesize())
	require.Empty(t, s.Path())
	require.Len(t, ev.closed, 1)
}

func TestForcedSplitWithoutInitFails(t *testing.T) {
	s, _ := newTestSplitter(t)

	_, err := s.Process(mediaItem("SEG-1", true))
	require.Error(t, err)
	require.False(t, s.FileOpen())
}

func TestCancelIdempotent(t *testing.T) {
	s, ev := newTestSplitter(t)

	_, err := s.Process(initItem("INIT-A"))
	require.NoError(t, err)

	s.Cancel()
	s.Cancel()
	require.Len(t, ev.closed, 1)
	require.False(t, s.FileOpen())
}

func TestWithExtension(t *testing.T) {
	require.Equal(t, "out.m4s", withExtension("out"))
	require.Equal(t, "out.m4s", withExtension("out.ts"))
	require.Equal(t, "/a/b/out.m4s", withExtension("/a/b/out.mp4"))
}

func TestPipeCompletion(t *testing.T) {
	s, ev := newTestSplitter(t)

	in := make(chan stream.Packet, 4)
	in <- stream.Packet{Item: initItem("INIT-A")}
	in <- stream.Packet{Item: mediaItem("SEG-1", false)}
	close(in)

	var got []stream.Item
	for pkt := range s.Pipe(context.Background(), in) {
		require.NoError(t, pkt.Err)
		got = append(got, pkt.Item)
	}

	require.Len(t, got, 2)
	require.Equal(t, int64(0), got[0].Offset)
	require.Equal(t, int64(len("INIT-A")), got[1].Offset)

	// completion closed the file and cleared the session state
	require.False(t, s.FileOpen())
	require.Len(t, ev.opened, 1)
	require.Len(t, ev.closed, 1)
}

func TestPipeForwardsUpstreamError(t *testing.T) {
	s, ev := newTestSplitter(t)
	boom := errors.New("upstream failed")

	in := make(chan stream.Packet, 4)
	in <- stream.Packet{Item: initItem("INIT-A")}
	in <- stream.Packet{Err: boom}
	close(in)

	var last stream.Packet
	for pkt := range s.Pipe(context.Background(), in) {
		last = pkt
	}

	require.ErrorIs(t, last.Err, boom)
	require.False(t, s.FileOpen())
	require.Len(t, ev.closed, 1)
}

func TestPipeCancellation(t *testing.T) {
	s, ev := newTestSplitter(t)
	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan stream.Packet)
	out := s.Pipe(ctx, in)

	in <- stream.Packet{Item: initItem("INIT-A")}
	<-out // forwarded init

	cancel()
	for range out {
	}

	require.False(t, s.FileOpen())
	require.Len(t, ev.closed, 1)
}
