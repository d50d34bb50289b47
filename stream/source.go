package stream

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grafov/m3u8"

	"github.com/whisper-darkly/sticky-splitter/logger"
)

// SourceConfig holds the parameters for playlist polling and fetching.
type SourceConfig struct {
	PlaylistURL string
	Cookies     string
	UserAgent   string

	PollInterval time.Duration // 0 = half the playlist target duration
	StallTimeout time.Duration // no new segments within this = stream ended

	// Split policy: when either threshold would be exceeded, the next
	// media chunk is tagged with the forced-split flag so the splitter
	// starts a new output file. Zero disables the respective threshold.
	SplitTime time.Duration
	SplitSize int64

	Log *logger.Logger
}

// Source polls a live fMP4 media playlist and emits the init section and
// media segments, in playlist order, as pipeline packets.
//
// The source is the only stage that talks to the network. It does not
// retry failed fetches: a fetch error terminates the stream with an
// error packet and the session loop upstream decides what to do next.
type Source struct {
	cfg    SourceConfig
	client *HTTPClient
	log    *logger.Logger
}

// NewSource creates a Source. Run may be called once per Source.
func NewSource(cfg SourceConfig) *Source {
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 30 * time.Second
	}
	return &Source{
		cfg:    cfg,
		client: NewHTTPClient(cfg.Cookies, cfg.UserAgent),
		log:    cfg.Log,
	}
}

// Run starts polling and returns the packet channel. The channel closes
// after the stream ends (normal completion), the context is cancelled,
// or a terminal error packet has been sent.
func (s *Source) Run(ctx context.Context) <-chan Packet {
	out := make(chan Packet)
	go func() {
		defer close(out)
		if err := s.poll(ctx, out); err != nil && ctx.Err() == nil {
			select {
			case out <- Packet{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

func (s *Source) poll(ctx context.Context, out chan<- Packet) error {
	var (
		nextSeq  uint64
		first    = true
		initURI  string
		lastNew  = time.Now()
		splitDur float64
		splitLen int64
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		pl, err := s.fetchPlaylist(ctx)
		if err != nil {
			return err
		}

		fresh := 0
		for _, seg := range pl.GetAllSegments() {
			if !first && seg.SeqId < nextSeq {
				continue
			}
			if first {
				// Join the live edge: skip history, keep only the most
				// recent entry so recording starts near realtime.
				if latest := latestSeq(pl); seg.SeqId < latest {
					continue
				}
				first = false
			}
			nextSeq = seg.SeqId + 1
			fresh++
			lastNew = time.Now()

			chunk := &Chunk{
				Sequence:      seg.SeqId,
				URI:           resolveURL(s.cfg.PlaylistURL, seg.URI),
				Duration:      seg.Duration,
				Discontinuity: seg.Discontinuity,
			}

			// Forced split: playlist discontinuity, or the embedding
			// split policy crossing a per-file threshold.
			if seg.Discontinuity {
				chunk.ForceSplit = true
			}
			if s.cfg.SplitTime > 0 && splitDur+seg.Duration > s.cfg.SplitTime.Seconds() && splitDur > 0 {
				chunk.ForceSplit = true
			}
			if s.cfg.SplitSize > 0 && splitLen >= s.cfg.SplitSize {
				chunk.ForceSplit = true
			}
			if chunk.ForceSplit {
				splitDur, splitLen = 0, 0
			}

			if uri := mapURI(pl, seg); uri == "" {
				return ErrNoInitSection
			} else if uri != initURI {
				resolved := resolveURL(s.cfg.PlaylistURL, uri)
				payload, err := s.client.GetBytes(ctx, resolved)
				if err != nil {
					return fmt.Errorf("fetch init section: %w", err)
				}
				initURI = uri
				if !send(ctx, out, Packet{Item: NewInitSection(payload, chunk)}) {
					return nil
				}
			}

			payload, err := s.client.GetBytes(ctx, chunk.URI)
			if err != nil {
				return fmt.Errorf("fetch segment %d: %w", seg.SeqId, err)
			}
			splitDur += seg.Duration
			splitLen += int64(len(payload))
			if !send(ctx, out, Packet{Item: NewMediaSegment(payload, chunk)}) {
				return nil
			}
		}

		if pl.Closed {
			s.log.Debug("playlist closed, stream ended")
			return nil
		}
		if fresh == 0 && time.Since(lastNew) > s.cfg.StallTimeout {
			s.log.Info("no new segments for %s, treating stream as ended", s.cfg.StallTimeout)
			return nil
		}

		select {
		case <-time.After(s.pollDelay(pl)):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Source) fetchPlaylist(ctx context.Context) (*m3u8.MediaPlaylist, error) {
	body, err := s.client.GetBytes(ctx, s.cfg.PlaylistURL)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, ErrNotMedia
	}
	return p.(*m3u8.MediaPlaylist), nil
}

func (s *Source) pollDelay(pl *m3u8.MediaPlaylist) time.Duration {
	if s.cfg.PollInterval > 0 {
		return s.cfg.PollInterval
	}
	d := time.Duration(pl.TargetDuration * float64(time.Second) / 2)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// mapURI returns the init-section URI in effect for seg: the per-segment
// EXT-X-MAP when present, otherwise the playlist-level one.
func mapURI(pl *m3u8.MediaPlaylist, seg *m3u8.MediaSegment) string {
	if seg.Map != nil && seg.Map.URI != "" {
		return seg.Map.URI
	}
	if pl.Map != nil {
		return pl.Map.URI
	}
	return ""
}

func latestSeq(pl *m3u8.MediaPlaylist) uint64 {
	var max uint64
	for _, seg := range pl.GetAllSegments() {
		if seg.SeqId > max {
			max = seg.SeqId
		}
	}
	return max
}

func send(ctx context.Context, out chan<- Packet, pkt Packet) bool {
	select {
	case out <- pkt:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveURL constructs a full URL from the playlist URL and a possibly
// relative entry URI, preserving the playlist's query parameters.
func resolveURL(baseURL, uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}

	queryPart := ""
	pathPart := baseURL
	if idx := strings.Index(baseURL, "?"); idx != -1 {
		pathPart = baseURL[:idx]
		queryPart = baseURL[idx:]
	}

	if lastSlash := strings.LastIndex(pathPart, "/"); lastSlash != -1 {
		return pathPart[:lastSlash+1] + uri + queryPart
	}
	return uri + queryPart
}
