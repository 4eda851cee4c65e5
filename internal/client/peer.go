package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"chatpulse/internal/domain"
)

const pliInterval = 3 * time.Second

// Peer wraps the media connection to one remote participant. A group call
// holds one Peer per remote (full mesh).
type Peer struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID
	cancel context.CancelFunc

	onICE    func(webrtc.ICECandidateInit)
	onClosed func()

	mu          sync.Mutex
	videoSender *webrtc.RTPSender
}

func newPeer(api *webrtc.API, cfg webrtc.Configuration, remote domain.UserID) (*Peer, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Peer{pc: pc, remote: remote}, nil
}

// Start binds state callbacks and ties the connection lifetime to ctx.
func (p *Peer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "client.peer").Str("remote", string(p.remote)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "client.peer").Str("remote", string(p.remote)).Str("peer_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			if p.onClosed != nil {
				p.onClosed()
			}
		}
	})

	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && p.onICE != nil {
			p.onICE(cand.ToJSON())
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "client.peer").
			Str("remote", string(p.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		go p.drainTrack(ctx, track)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go p.pliLoop(ctx, track)
		}
	})

	return nil
}

// drainTrack keeps the inbound RTP pipeline flowing. Rendering is the
// embedder's job; an unread track stalls the interceptor chain either way.
func (p *Peer) drainTrack(ctx context.Context, track *webrtc.TrackRemote) {
	var first *rtp.Packet
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "client.peer").Str("remote", string(p.remote)).Msg("track read stopped")
			}
			return
		}
		if first == nil {
			first = pkt
			log.Debug().
				Str("module", "client.peer").
				Str("remote", string(p.remote)).
				Uint32("ssrc", first.SSRC).
				Uint8("payload_type", first.PayloadType).
				Msg("media flowing")
		}
	}
}

// pliLoop periodically requests a keyframe so late joiners and lossy paths
// recover the video picture.
func (p *Peer) pliLoop(ctx context.Context, track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
			if err != nil {
				log.Debug().Err(err).Str("module", "client.peer").Str("remote", string(p.remote)).Msg("PLI write stopped")
				return
			}
		}
	}
}

// AddTrack attaches a local track and remembers the video sender so screen
// share can swap the outgoing track in place later.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		p.mu.Lock()
		p.videoSender = sender
		p.mu.Unlock()
	}
	return nil
}

// ReplaceVideoTrack substitutes the outgoing video track without a new
// offer/answer round. Falls back to AddTrack when the peer was negotiated
// audio-only.
func (p *Peer) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	sender := p.videoSender
	p.mu.Unlock()
	if sender == nil {
		return p.AddTrack(track)
	}
	return sender.ReplaceTrack(track)
}

// CreateOfferAndGather produces a complete local offer with all candidates
// inline, mirroring a non-trickle handshake. Canceling ctx abandons the
// gather wait, so a hangup is not stuck behind slow ICE servers.
func (p *Peer) CreateOfferAndGather(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.pc.LocalDescription(), nil
}

func (p *Peer) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.pc.LocalDescription(), nil
}

func (p *Peer) ApplyAnswer(answer webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(answer)
}

func (p *Peer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(ci)
}

// OnICECandidate sets a callback for newly gathered local candidates.
func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) { p.onICE = fn }

// OnClosed sets a callback fired when the underlying transport dies.
func (p *Peer) OnClosed(fn func()) { p.onClosed = fn }

// Close tears the connection down unconditionally, whatever its
// negotiation state.
func (p *Peer) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.pc != nil {
		if err := p.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "client.peer").Str("remote", string(p.remote)).Msg("close error")
		}
	}
}
