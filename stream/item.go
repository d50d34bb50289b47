package stream

// OffsetUnset marks an item that has not been written to a file yet.
const OffsetUnset int64 = -1

// ItemKind distinguishes the two kinds of payload flowing through the pipeline.
type ItemKind int

const (
	// KindInit is an initialization section: a binary block that must
	// precede any media data within an output file.
	KindInit ItemKind = iota
	// KindMedia is a media segment belonging to the current
	// initialization context.
	KindMedia
)

func (k ItemKind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindMedia:
		return "media"
	default:
		return "???"
	}
}

// Chunk describes one fetched playlist entry. The source owns it and
// fills it in; downstream stages read it but never modify it.
type Chunk struct {
	Sequence      uint64  // media sequence number from the playlist
	URI           string  // resolved URI the payload was fetched from
	Duration      float64 // advertised duration in seconds
	Discontinuity bool    // EXT-X-DISCONTINUITY preceded this entry
	ForceSplit    bool    // upstream requests a new output file at this chunk
}

// Item is one unit of pipeline traffic: an init section or a media
// segment together with its raw payload. Offset is OffsetUnset until the
// splitter writes the payload, after which it holds the byte offset of
// the payload within its output file.
type Item struct {
	Kind    ItemKind
	Payload []byte
	Chunk   *Chunk
	Offset  int64
}

// NewInitSection builds an unwritten init-section item.
func NewInitSection(payload []byte, chunk *Chunk) Item {
	return Item{Kind: KindInit, Payload: payload, Chunk: chunk, Offset: OffsetUnset}
}

// NewMediaSegment builds an unwritten media-segment item.
func NewMediaSegment(payload []byte, chunk *Chunk) Item {
	return Item{Kind: KindMedia, Payload: payload, Chunk: chunk, Offset: OffsetUnset}
}

// ForceSplit reports whether the originating chunk requests a file split.
func (it Item) ForceSplit() bool {
	return it.Chunk != nil && it.Chunk.ForceSplit
}

// Packet is one message on a pipeline channel: either an item or a
// terminal error. A packet with Err != nil is always the last packet a
// stage sends before closing its output channel.
type Packet struct {
	Item Item
	Err  error
}
