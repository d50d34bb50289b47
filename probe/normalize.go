package probe

// Normalize rewrites the stream list into the stable shape consumers
// rely on:
//
//  1. a container-level "encoder" tag is copied into the first video
//     stream's tags when not already set there;
//  2. a wholly absent kind gets a "none" placeholder so at least one
//     video and one audio entry always exist;
//  3. streams are reordered into strict video/audio alternation, so the
//     first entry of each kind sits at a fixed position.
func Normalize(p *Profile) {
	var videos, audios []Stream
	for _, st := range p.Streams {
		switch st.CodecType {
		case "video":
			videos = append(videos, st)
		case "audio":
			audios = append(audios, st)
		}
	}

	if encoder := p.Format.Tags["encoder"]; encoder != "" && len(videos) > 0 {
		if videos[0].Tags == nil {
			videos[0].Tags = map[string]string{}
		}
		if _, ok := videos[0].Tags["encoder"]; !ok {
			videos[0].Tags["encoder"] = encoder
		}
	}

	if len(videos) == 0 {
		videos = append(videos, placeholder("video"))
	}
	if len(audios) == 0 {
		audios = append(audios, placeholder("audio"))
	}

	merged := make([]Stream, 0, len(videos)+len(audios))
	for i := 0; i < len(videos) || i < len(audios); i++ {
		if i < len(videos) {
			merged = append(merged, videos[i])
		}
		if i < len(audios) {
			merged = append(merged, audios[i])
		}
	}
	p.Streams = merged
}

func placeholder(kind string) Stream {
	st := Stream{
		Index:       -1,
		CodecName:   "none",
		CodecType:   kind,
		Disposition: map[string]int{},
		Tags:        map[string]string{},
	}
	if kind == "audio" {
		st.SampleRate = "0"
	}
	return st
}
