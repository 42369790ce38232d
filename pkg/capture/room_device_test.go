package capture

import (
	"bytes"
	"testing"

	"github.com/matryer/is"
	"github.com/pion/rtp"
)

func TestOggStreamHeadersThenPages(t *testing.T) {
	is := is.New(t)

	ogg, err := newOggStream(48000, 2)
	is.NoErr(err)

	head := ogg.Drain()
	is.True(bytes.HasPrefix(head, []byte("OggS")))
	is.True(bytes.Contains(head, []byte("OpusHead")))
	is.True(bytes.Contains(head, []byte("OpusTags")))
	is.True(ogg.Drain() == nil) // nothing new since the last read

	frame := []byte{0xfc, 0xde, 0xad, 0xbe, 0xef}
	is.NoErr(ogg.WriteRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1, Timestamp: 960}, Payload: frame}))
	is.NoErr(ogg.WriteRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 2, Timestamp: 1920}, Payload: frame}))
	is.NoErr(ogg.WriteRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 3, Timestamp: 2880}}))

	pages := ogg.Drain()
	is.True(bytes.HasPrefix(pages, []byte("OggS")))
	is.Equal(bytes.Count(pages, []byte("OggS")), 2) // one page per packet, empty payloads skipped
	is.Equal(bytes.Count(pages, frame), 2)
	is.True(!bytes.Contains(pages, []byte("OpusHead")))
}

func TestRoomStreamReadsWithoutTrack(t *testing.T) {
	is := is.New(t)

	s := &roomStream{format: AudioFormat{MimeType: "audio/ogg", Encoding: "opus"}}
	data, err := s.ReadAudio()
	is.NoErr(err)
	is.True(data == nil)
	is.True(!s.Format().IsLinearPCM())
}
