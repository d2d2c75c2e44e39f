package playlist

import (
	"strings"

	"github.com/grafov/m3u8"
)

// Kind classifies a decoded playlist.
type Kind string

const (
	KindMaster  Kind = "master"
	KindMedia   Kind = "media"
	KindUnknown Kind = "unknown"
)

// Summary describes a playlist for logging and metrics. The rewriters never depend on it.
type Summary struct {
	Kind           Kind
	Variants       int
	Segments       int
	TargetDuration float64
	Live           bool
}

// Inspect decodes body leniently. Manifests the decoder rejects are reported as
// KindUnknown together with the decode error; the textual rewrite still applies to them.
func Inspect(body string) (Summary, error) {
	p, listType, err := m3u8.DecodeFrom(strings.NewReader(body), false)
	if err != nil {
		return Summary{Kind: KindUnknown}, err
	}

	switch listType {
	case m3u8.MASTER:
		master := p.(*m3u8.MasterPlaylist)
		n := 0
		for _, v := range master.Variants {
			if v != nil {
				n++
			}
		}
		return Summary{Kind: KindMaster, Variants: n}, nil

	case m3u8.MEDIA:
		media := p.(*m3u8.MediaPlaylist)
		n := 0
		for _, s := range media.Segments {
			if s != nil {
				n++
			}
		}
		return Summary{
			Kind:           KindMedia,
			Segments:       n,
			TargetDuration: media.TargetDuration,
			Live:           !media.Closed,
		}, nil
	}

	return Summary{Kind: KindUnknown}, nil
}
