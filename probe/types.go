package probe

// ffprobe reports every stream through one JSON object; which fields are
// populated depends on codec_type. A single wire struct keeps parsing,
// placeholder synthesis and reordering uniform across kinds.

// Stream is one entry of the probed "streams" list, video or audio.
type Stream struct {
	Index          int    `json:"index"`
	CodecName      string `json:"codec_name"`
	CodecLongName  string `json:"codec_long_name,omitempty"`
	CodecType      string `json:"codec_type"`
	CodecTagString string `json:"codec_tag_string,omitempty"`
	CodecTag       string `json:"codec_tag,omitempty"`

	// video
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	CodedWidth  int    `json:"coded_width,omitempty"`
	CodedHeight int    `json:"coded_height,omitempty"`
	HasBFrames  int    `json:"has_b_frames,omitempty"`
	Level       int    `json:"level,omitempty"`
	Refs        int    `json:"refs,omitempty"`
	PixFmt      string `json:"pix_fmt,omitempty"`
	IsAVC       string `json:"is_avc,omitempty"`

	// audio
	SampleFmt     string `json:"sample_fmt,omitempty"`
	SampleRate    string `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	BitsPerSample int    `json:"bits_per_sample,omitempty"`
	BitRate       string `json:"bit_rate,omitempty"`

	RFrameRate   string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate string            `json:"avg_frame_rate,omitempty"`
	TimeBase     string            `json:"time_base,omitempty"`
	Duration     string            `json:"duration,omitempty"`
	Disposition  map[string]int    `json:"disposition,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// Format holds container-level metadata from the "format" section.
type Format struct {
	Filename       string            `json:"filename,omitempty"`
	NbStreams      int               `json:"nb_streams,omitempty"`
	FormatName     string            `json:"format_name,omitempty"`
	FormatLongName string            `json:"format_long_name,omitempty"`
	Duration       string            `json:"duration,omitempty"`
	Size           string            `json:"size,omitempty"`
	BitRate        string            `json:"bit_rate,omitempty"`
	ProbeScore     int               `json:"probe_score,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// Profile is a normalized probe result. After Normalize the stream list
// alternates video/audio/video/audio..., contains at least one entry of
// each kind, and a wholly absent kind is represented by a synthesized
// placeholder with codec name "none".
type Profile struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// FirstVideo returns the first video stream, which after Normalize is
// always present (possibly a placeholder).
func (p *Profile) FirstVideo() *Stream { return p.firstOfKind("video") }

// FirstAudio returns the first audio stream, which after Normalize is
// always present (possibly a placeholder).
func (p *Profile) FirstAudio() *Stream { return p.firstOfKind("audio") }

func (p *Profile) firstOfKind(kind string) *Stream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == kind {
			return &p.Streams[i]
		}
	}
	return nil
}

// Missing reports whether the stream is a synthesized placeholder for a
// kind that was absent from the probed payload.
func (st *Stream) Missing() bool {
	return st.CodecName == "none"
}
