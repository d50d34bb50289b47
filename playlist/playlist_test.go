package playlist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whisper-darkly/sticky-splitter/logger"
	"github.com/whisper-darkly/sticky-splitter/stream"
)

func mediaPacket(payload string, duration float64) stream.Packet {
	return stream.Packet{
		Item: stream.NewMediaSegment([]byte(payload), &stream.Chunk{Duration: duration}),
	}
}

func drain(t *testing.T, d *Dumper, pkts ...stream.Packet) {
	t.Helper()
	in := make(chan stream.Packet, len(pkts))
	for _, pkt := range pkts {
		in <- pkt
	}
	close(in)
	for pkt := range d.Pipe(context.Background(), in) {
		require.NoError(t, pkt.Err)
	}
}

func TestDurationAccounting(t *testing.T) {
	d := New("", logger.New(logger.LevelFatal))

	drain(t, d,
		stream.Packet{Item: stream.NewInitSection([]byte("INIT"), &stream.Chunk{})},
		mediaPacket("A", 4.0),
		mediaPacket("B", 3.5),
	)

	// init sections carry no duration
	require.InDelta(t, 7.5, d.Duration(), 1e-9)
}

func TestIndexWriting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.m3u8")
	d := New(path, logger.New(logger.LevelFatal))

	in := make(chan stream.Packet)
	out := d.Pipe(context.Background(), in)

	d.FileOpened(filepath.Join(dir, "out_000.m4s"), 1700000000)
	in <- mediaPacket("A", 4.0)
	<-out
	in <- mediaPacket("B", 2.0)
	<-out
	d.FileClosed(filepath.Join(dir, "out_000.m4s"))

	d.FileOpened(filepath.Join(dir, "out_001.m4s"), 1700000006)
	in <- mediaPacket("C", 5.0)
	<-out
	d.FileClosed(filepath.Join(dir, "out_001.m4s"))

	close(in)
	for range out {
	}

	require.NoError(t, d.Finalize())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	require.Contains(t, text, "#EXTM3U")
	require.Contains(t, text, "out_000.m4s")
	require.Contains(t, text, "out_001.m4s")
	require.Contains(t, text, "#EXT-X-ENDLIST")
	// per-file durations, not totals
	require.Contains(t, text, "6.000")
	require.Contains(t, text, "5.000")

	require.InDelta(t, 11.0, d.Duration(), 1e-9)
}

func TestDisabledIndex(t *testing.T) {
	d := New("", logger.New(logger.LevelFatal))
	d.FileOpened("x.m4s", 0)
	d.FileClosed("x.m4s")
	require.NoError(t, d.Finalize())
}

func TestSessionRestartResetsDuration(t *testing.T) {
	d := New("", logger.New(logger.LevelFatal))

	drain(t, d, mediaPacket("A", 4.0))
	require.InDelta(t, 4.0, d.Duration(), 1e-9)

	drain(t, d, mediaPacket("B", 1.0))
	require.InDelta(t, 1.0, d.Duration(), 1e-9)
}

func TestErrorPacketForwarded(t *testing.T) {
	d := New("", logger.New(logger.LevelFatal))

	in := make(chan stream.Packet, 2)
	in <- stream.Packet{Err: os.ErrClosed}
	close(in)

	var last stream.Packet
	for pkt := range d.Pipe(context.Background(), in) {
		last = pkt
	}
	require.ErrorIs(t, last.Err, os.ErrClosed)
}
