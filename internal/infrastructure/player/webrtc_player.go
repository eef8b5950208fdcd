// Package player builds WebRTC-backed playback resources. It is the
// production implementation of the opaque player handle the session
// core manages.
package player

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"viewmux/internal/core/domain"
	"viewmux/internal/core/ports"
	"viewmux/pkg/optimize"
	"viewmux/pkg/throttle"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	pliInterval = 3 * time.Second
	mtu         = 1500
)

var packetBuffers = optimize.NewBytePool(mtu)

// Config holds WebRTC transport configuration. OnStats, when set,
// receives playback counter snapshots coalesced to at most one per
// display frame, so the per-packet update rate never reaches consumers.
type Config struct {
	ICEServers []webrtc.ICEServer
	OnStats    func(id domain.SessionID, stats domain.PlaybackStats)
}

// SignalPayload is the admission payload this factory understands: the
// remote side's SDP offer.
type SignalPayload struct {
	OfferSDP string `json:"offer_sdp"`
}

// Factory creates receive-only peer connections for stream playback.
type Factory struct {
	config Config
	logger *zap.SugaredLogger
}

var _ ports.PlayerFactory = (*Factory)(nil)

func NewFactory(config Config, logger *zap.SugaredLogger) *Factory {
	return &Factory{config: config, logger: logger}
}

// NewPlayer negotiates a receive-only peer connection from the offer in
// payload. The returned handle owns the connection; Destroy closes it.
func (f *Factory) NewPlayer(ctx context.Context, id domain.SessionID, payload interface{}) (domain.PlayerHandle, error) {
	signal, err := decodeSignal(payload)
	if err != nil {
		return nil, domain.NewTypedError(domain.ErrorMedia, fmt.Errorf("session %s: %w", id, err))
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: f.config.ICEServers})
	if err != nil {
		return nil, domain.NewTypedError(domain.ErrorUnknown, fmt.Errorf("failed to create peer connection: %w", err))
	}

	p := &Player{
		id:     id,
		pc:     pc,
		logger: f.logger,
		closed: make(chan struct{}),
	}
	if f.config.OnStats != nil {
		onStats := f.config.OnStats
		p.statsThrottle = throttle.New(func(stats domain.PlaybackStats) {
			onStats(id, stats)
		}, throttle.DefaultInterval)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, domain.NewTypedError(domain.ErrorUnknown, fmt.Errorf("failed to add transceiver: %w", err))
		}
	}

	pc.OnTrack(p.onTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		f.logger.Debugw("peer connection state changed", "session_id", id, "state", state)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  signal.OfferSDP,
	}); err != nil {
		pc.Close()
		return nil, domain.NewTypedError(domain.ErrorMedia, fmt.Errorf("failed to set remote offer: %w", err))
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, domain.NewTypedError(domain.ErrorServer, fmt.Errorf("failed to create answer: %w", err))
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, domain.NewTypedError(domain.ErrorServer, fmt.Errorf("failed to set local description: %w", err))
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	return p, nil
}

func decodeSignal(payload interface{}) (SignalPayload, error) {
	switch v := payload.(type) {
	case SignalPayload:
		return v, nil
	case *SignalPayload:
		return *v, nil
	case map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return SignalPayload{}, fmt.Errorf("invalid signal payload: %w", err)
		}
		var s SignalPayload
		if err := json.Unmarshal(data, &s); err != nil {
			return SignalPayload{}, fmt.Errorf("invalid signal payload: %w", err)
		}
		if s.OfferSDP == "" {
			return SignalPayload{}, fmt.Errorf("signal payload missing offer_sdp")
		}
		return s, nil
	default:
		return SignalPayload{}, fmt.Errorf("unsupported payload type %T", payload)
	}
}

// Player is one live receive-only peer connection.
type Player struct {
	id     domain.SessionID
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	packetsReceived atomic.Uint64
	bytesReceived   atomic.Uint64
	lossPct         atomic.Uint64 // fraction lost * 1e6
	jitterNanos     atomic.Uint64

	statsThrottle *throttle.Throttle[domain.PlaybackStats]

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

var _ domain.PlayerHandle = (*Player)(nil)

// AnswerSDP returns the local SDP answer for the signaling response.
func (p *Player) AnswerSDP() string {
	if desc := p.pc.LocalDescription(); desc != nil {
		return desc.SDP
	}
	return ""
}

// Stats snapshots playback counters.
func (p *Player) Stats() domain.PlaybackStats {
	return domain.PlaybackStats{
		Timestamp:       time.Now(),
		PacketsReceived: p.packetsReceived.Load(),
		BytesReceived:   p.bytesReceived.Load(),
		PacketLoss:      float64(p.lossPct.Load()) / 1e6,
		Jitter:          time.Duration(p.jitterNanos.Load()),
	}
}

// Destroy closes the peer connection. Idempotent; the first error wins.
func (p *Player) Destroy() error {
	p.closeOnce.Do(func() {
		if p.statsThrottle != nil {
			p.statsThrottle.Cancel()
		}
		p.closeErr = p.pc.Close()
		close(p.closed)
	})
	return p.closeErr
}

func (p *Player) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if p.logger != nil {
		p.logger.Infow("track started",
			"session_id", p.id,
			"kind", track.Kind(),
			"codec", track.Codec().MimeType,
		)
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go p.sendPLI(track.SSRC())
	}
	go p.readRTCP(receiver)

	buf := packetBuffers.Get()
	defer packetBuffers.Put(buf)

	var pkt rtp.Packet
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		p.packetsReceived.Add(1)
		p.bytesReceived.Add(uint64(n))
		if p.statsThrottle != nil {
			p.statsThrottle.Call(p.Stats())
		}
	}
}

// sendPLI periodically requests keyframes so a late-joining receiver
// recovers a decodable picture.
func (p *Player) sendPLI(ssrc webrtc.SSRC) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			err := p.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
			})
			if err != nil {
				return
			}
		}
	}
}

func (p *Player) readRTCP(receiver *webrtc.RTPReceiver) {
	for {
		pkts, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			sr, ok := pkt.(*rtcp.SenderReport)
			if !ok {
				continue
			}
			for _, rep := range sr.Reports {
				p.lossPct.Store(uint64(float64(rep.FractionLost) / 256.0 * 1e6))
				p.jitterNanos.Store(uint64(time.Duration(rep.Jitter) * time.Millisecond / 90))
			}
		}
	}
}
