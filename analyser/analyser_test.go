package analyser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whisper-darkly/sticky-splitter/probe"
	"github.com/whisper-darkly/sticky-splitter/stream"
)

func videoAudioProfile() *probe.Profile {
	p := &probe.Profile{
		Streams: []probe.Stream{
			{CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080},
			{CodecType: "audio", CodecName: "aac", SampleRate: "44100", Channels: 2},
		},
	}
	probe.Normalize(p)
	return p
}

func audioLessProfile() *probe.Profile {
	p := &probe.Profile{
		Streams: []probe.Stream{
			{CodecType: "video", CodecName: "h264", Width: 1280, Height: 720},
		},
	}
	probe.Normalize(p)
	return p
}

func TestWatchUpdatesCache(t *testing.T) {
	a := New(func() float64 { return 12.5 }, func() int64 { return 4096 })

	profiles := make(chan *probe.Profile)
	a.Watch(profiles)

	profiles <- videoAudioProfile()
	require.Eventually(t, func() bool {
		return a.Metadata().Width == 1920
	}, time.Second, 10*time.Millisecond)

	md := a.Metadata()
	require.Equal(t, 12.5, md.Duration)
	require.Equal(t, int64(4096), md.Filesize)
	require.Equal(t, 1920, md.Width)
	require.Equal(t, 1080, md.Height)

	rate, channels, ok := a.AudioParams()
	require.True(t, ok)
	require.Equal(t, "44100", rate)
	require.Equal(t, 2, channels)

	// each update fully replaces the cache
	profiles <- audioLessProfile()
	require.Eventually(t, func() bool {
		return a.Metadata().Width == 1280
	}, time.Second, 10*time.Millisecond)

	_, _, ok = a.AudioParams()
	require.False(t, ok)
	close(profiles)
}

func TestPipePassThroughAndReset(t *testing.T) {
	a := New(func() float64 { return 0 }, func() int64 { return 0 })

	profiles := make(chan *probe.Profile)
	a.Watch(profiles)
	profiles <- videoAudioProfile()
	require.Eventually(t, func() bool {
		return a.Metadata().Width == 1920
	}, time.Second, 10*time.Millisecond)

	in := make(chan stream.Packet, 2)
	item := stream.NewMediaSegment([]byte("SEG"), &stream.Chunk{Sequence: 7})
	in <- stream.Packet{Item: item}
	close(in)

	var got []stream.Packet
	for pkt := range a.Pipe(context.Background(), in) {
		got = append(got, pkt)
	}

	// items pass through unchanged
	require.Len(t, got, 1)
	require.Equal(t, []byte("SEG"), got[0].Item.Payload)
	require.Equal(t, uint64(7), got[0].Item.Chunk.Sequence)

	// session start reset wiped the pre-session cache, and nothing was
	// probed during the session
	md := a.Metadata()
	require.Zero(t, md.Width)
	require.Zero(t, md.Height)
	close(profiles)
}
