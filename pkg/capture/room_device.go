package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"

	"github.com/chriscow/empathic-go/pkg/rtc"
)

// RoomConfig identifies the LiveKit room to listen to.
type RoomConfig struct {
	URL   string
	Token string
	// Participant limits capture to one remote identity; empty takes the
	// first audio track subscribed.
	Participant string
	Logger      *slog.Logger
}

// RoomDevice is a microphone backed by a remote participant's Opus track in
// a LiveKit room. Reads return a continuous Ogg Opus stream: the first
// non-empty read carries the stream headers, later reads carry the pages
// received since the previous read.
type RoomDevice struct {
	cfg RoomConfig
}

// NewRoomDevice validates cfg and returns a RoomDevice.
func NewRoomDevice(cfg RoomConfig) (*RoomDevice, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RoomDevice{cfg: cfg}, nil
}

func (d *RoomDevice) Name() string { return "room:" + d.cfg.URL }

func (d *RoomDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &roomStream{
		participant: d.cfg.Participant,
		logger:      d.cfg.Logger,
		connected:   true,
		format: AudioFormat{
			MimeType:   "audio/ogg",
			Encoding:   "opus",
			SampleRate: 48000,
			Channels:   1,
		},
	}

	callback := &lksdk.RoomCallback{
		OnDisconnected: s.onDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: s.onTrackSubscribed,
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(d.cfg.URL, d.cfg.Token, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to room: %w", err)
	}

	s.mu.Lock()
	s.room = room
	s.mu.Unlock()

	d.cfg.Logger.Info("Connected to LiveKit room", slog.String("url", d.cfg.URL))
	return s, nil
}

type roomStream struct {
	participant string
	logger      *slog.Logger
	format      AudioFormat

	mu        sync.Mutex
	room      *lksdk.Room
	connected bool
	closed    bool
	track     *webrtc.TrackRemote
	ogg       *oggStream
}

func (s *roomStream) onTrackSubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, participant *lksdk.RemoteParticipant) {
	if publication.Kind().ProtoType() != livekit.TrackType_AUDIO {
		return
	}
	if s.participant != "" && participant.Identity() != s.participant {
		return
	}

	codec := track.Codec()
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) {
		s.logger.Warn("Skipping non-Opus room track",
			slog.String("participant", participant.Identity()),
			slog.String("mime_type", codec.MimeType))
		return
	}

	s.mu.Lock()
	if s.track != nil || s.closed {
		s.mu.Unlock()
		return
	}
	if codec.ClockRate > 0 {
		s.format.SampleRate = int(codec.ClockRate)
	}
	if codec.Channels > 0 {
		s.format.Channels = int(codec.Channels)
	}
	ogg, err := newOggStream(uint32(s.format.SampleRate), uint16(s.format.Channels))
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("Failed to start Ogg stream", slog.String("error", err.Error()))
		return
	}
	s.track = track
	s.ogg = ogg
	s.mu.Unlock()

	s.logger.Info("Capturing room audio",
		slog.String("participant", participant.Identity()),
		slog.String("track_sid", publication.SID()),
		slog.String("mime_type", track.Codec().MimeType))

	go s.readTrack(track)
}

func (s *roomStream) readTrack(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("Room track read failed", slog.String("error", err.Error()))
			}
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		err = s.ogg.WriteRTP(pkt)
		s.mu.Unlock()
		if err != nil {
			s.logger.Debug("Dropping room audio packet", slog.String("error", err.Error()))
		}
	}
}

func (s *roomStream) onDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.logger.Info("Disconnected from LiveKit room")
}

func (s *roomStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

func (s *roomStream) Format() AudioFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

func (s *roomStream) ReadAudio() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ogg == nil {
		return nil, nil
	}
	return s.ogg.Drain(), nil
}

func (s *roomStream) HasVideo() bool { return false }

func (s *roomStream) Snapshot() (rtc.VideoFrame, error) {
	return rtc.VideoFrame{}, ErrNoVideo
}

func (s *roomStream) Close() error {
	s.mu.Lock()
	room := s.room
	s.closed = true
	s.room = nil
	s.ogg = nil
	s.mu.Unlock()

	if room != nil {
		room.Disconnect()
	}
	return nil
}

// oggStream packs Opus RTP packets into Ogg pages buffered in memory.
type oggStream struct {
	buf bytes.Buffer
	w   *oggwriter.OggWriter
}

// newOggStream starts a stream; the Opus headers are buffered immediately.
func newOggStream(sampleRate uint32, channels uint16) (*oggStream, error) {
	o := &oggStream{}
	w, err := oggwriter.NewWith(&o.buf, sampleRate, channels)
	if err != nil {
		return nil, err
	}
	o.w = w
	return o, nil
}

func (o *oggStream) WriteRTP(pkt *rtp.Packet) error {
	return o.w.WriteRTP(pkt)
}

// Drain returns the bytes written since the previous call.
func (o *oggStream) Drain() []byte {
	if o.buf.Len() == 0 {
		return nil
	}
	data := bytes.Clone(o.buf.Bytes())
	o.buf.Reset()
	return data
}
