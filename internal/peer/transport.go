package peer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/niklaspandersson/dicebox/internal/config"
	"github.com/niklaspandersson/dicebox/internal/signaling"
)

// DataChannelLabel names the single ordered channel between two peers.
const DataChannelLabel = "dicebox"

// Signaler relays handshake frames through the signaling server.
type Signaler interface {
	Send(msg *signaling.Message) error
}

// Handler receives data channel events. *mesh.Node implements it.
type Handler interface {
	ChannelOpen(peerID string)
	PeerDisconnected(peerID string)
	HandleMessage(peerID string, data []byte)
}

// Mesh keeps one WebRTC data channel per remote peer and implements
// mesh.Transport on top of them.
type Mesh struct {
	signal Signaler
	logger *slog.Logger
	newPC  func() (*pion.PeerConnection, error)

	mu      sync.Mutex
	handler Handler
	links   map[string]*link
	// early holds candidates that overtook the offer of their peer.
	early map[string][]pion.ICECandidateInit
}

type link struct {
	peerID    string
	pc        *pion.PeerConnection
	dc        *pion.DataChannel
	open      bool
	remoteSet bool
	pending   []pion.ICECandidateInit
}

var newPeerConnection = NewPeerConnection

// NewMesh creates a transport that dials peers with the ICE servers of cfg.
func NewMesh(cfg *config.Config, signal Signaler, logger *slog.Logger) *Mesh {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mesh{
		signal: signal,
		logger: logger,
		newPC:  func() (*pion.PeerConnection, error) { return newPeerConnection(cfg) },
		links:  make(map[string]*link),
		early:  make(map[string][]pion.ICECandidateInit),
	}
}

// NewPeerConnection creates a peer connection using the configured STUN and
// TURN servers.
func NewPeerConnection(cfg *config.Config) (*pion.PeerConnection, error) {
	iceServers := []pion.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || behindRestrictiveNAT()) {
		policy = pion.ICETransportPolicyRelay
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, NewError("create peer connection", err)
	}
	return pc, nil
}

// SetHandler installs the receiver of channel events. It must be called
// before the first Connect or HandleSignal.
func (m *Mesh) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Connect offers a data channel to peerID. A previous link to the peer is
// replaced.
func (m *Mesh) Connect(peerID string) error {
	l, err := m.newLink(peerID)
	if err != nil {
		return err
	}
	ordered := true
	dc, err := l.pc.CreateDataChannel(DataChannelLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		m.drop(peerID, l.pc)
		return NewError("create data channel", err)
	}
	m.setupChannel(l, dc)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		m.drop(peerID, l.pc)
		return NewError("create offer", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		m.drop(peerID, l.pc)
		return NewError("set local description", err)
	}
	return m.sendSignal(signaling.TypeOffer, peerID, l.pc.LocalDescription())
}

// Connected reports whether the channel to peerID is open.
func (m *Mesh) Connected(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.links[peerID]
	return l != nil && l.open
}

// newLink creates a peer connection for peerID, closing any older one.
func (m *Mesh) newLink(peerID string) (*link, error) {
	pc, err := m.newPC()
	if err != nil {
		return nil, err
	}
	l := &link{peerID: peerID, pc: pc}

	m.mu.Lock()
	old := m.links[peerID]
	m.links[peerID] = l
	m.mu.Unlock()
	if old != nil {
		m.logger.Debug("replacing peer connection", "peer", peerID)
		old.pc.Close()
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		if err := m.sendSignal(signaling.TypeICECandidate, peerID, &cand); err != nil {
			m.logger.Debug("failed to send ICE candidate", "peer", peerID, "err", err)
		}
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		m.logger.Debug("peer connection state", "peer", peerID, "state", state.String())
		if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateClosed {
			m.drop(peerID, pc)
		}
	})
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != DataChannelLabel {
			m.logger.Debug("ignoring data channel", "peer", peerID, "label", dc.Label())
			return
		}
		m.setupChannel(l, dc)
	})
	return l, nil
}

func (m *Mesh) setupChannel(l *link, dc *pion.DataChannel) {
	m.mu.Lock()
	l.dc = dc
	m.mu.Unlock()

	dc.OnOpen(func() {
		m.mu.Lock()
		if m.links[l.peerID] != l {
			m.mu.Unlock()
			return
		}
		l.open = true
		h := m.handler
		m.mu.Unlock()

		m.logger.Info("data channel open", "peer", l.peerID)
		if h != nil {
			h.ChannelOpen(l.peerID)
		}
	})
	dc.OnClose(func() {
		m.drop(l.peerID, l.pc)
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		m.mu.Lock()
		h := m.handler
		m.mu.Unlock()
		if h != nil {
			h.HandleMessage(l.peerID, msg.Data)
		}
	})
}

// HandleSignal applies an offer, answer or ICE candidate relayed from
// another peer.
func (m *Mesh) HandleSignal(msg *signaling.Message) error {
	from := msg.FromPeerID
	switch msg.Type {
	case signaling.TypeOffer:
		var desc pion.SessionDescription
		if err := json.Unmarshal(msg.Payload, &desc); err != nil {
			return NewError("parse offer", err)
		}
		if desc.Type != pion.SDPTypeOffer {
			return WrapError("handle offer", ErrUnexpectedSDP, desc.Type.String())
		}
		l, err := m.newLink(from)
		if err != nil {
			return err
		}
		m.mu.Lock()
		l.pending = append(l.pending, m.early[from]...)
		delete(m.early, from)
		m.mu.Unlock()
		if err := l.pc.SetRemoteDescription(desc); err != nil {
			m.drop(from, l.pc)
			return NewError("set remote description", err)
		}
		m.flushCandidates(l)
		answer, err := l.pc.CreateAnswer(nil)
		if err != nil {
			m.drop(from, l.pc)
			return NewError("create answer", err)
		}
		if err := l.pc.SetLocalDescription(answer); err != nil {
			m.drop(from, l.pc)
			return NewError("set local description", err)
		}
		return m.sendSignal(signaling.TypeAnswer, from, l.pc.LocalDescription())

	case signaling.TypeAnswer:
		var desc pion.SessionDescription
		if err := json.Unmarshal(msg.Payload, &desc); err != nil {
			return NewError("parse answer", err)
		}
		if desc.Type != pion.SDPTypeAnswer {
			return WrapError("handle answer", ErrUnexpectedSDP, desc.Type.String())
		}
		l := m.lookup(from)
		if l == nil {
			return WrapError("handle answer", ErrUnknownPeer, from)
		}
		if err := l.pc.SetRemoteDescription(desc); err != nil {
			return NewError("set remote description", err)
		}
		m.flushCandidates(l)
		return nil

	case signaling.TypeICECandidate:
		var cand pion.ICECandidateInit
		if err := json.Unmarshal(msg.Payload, &cand); err != nil {
			return NewError("parse ICE candidate", err)
		}
		m.mu.Lock()
		l := m.links[from]
		if l == nil {
			m.early[from] = append(m.early[from], cand)
			m.mu.Unlock()
			return nil
		}
		if !l.remoteSet {
			l.pending = append(l.pending, cand)
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		if err := l.pc.AddICECandidate(cand); err != nil {
			return NewError("add ICE candidate", err)
		}
		return nil

	default:
		return WrapError("handle signal", ErrUnexpectedSDP, string(msg.Type))
	}
}

// flushCandidates adds candidates that arrived before the remote
// description.
func (m *Mesh) flushCandidates(l *link) {
	m.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	m.mu.Unlock()
	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			m.logger.Debug("failed to add queued candidate", "peer", l.peerID, "err", err)
		}
	}
}

func (m *Mesh) lookup(peerID string) *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[peerID]
}

func (m *Mesh) sendSignal(t signaling.MessageType, peerID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return NewError("encode "+string(t), err)
	}
	if err := m.signal.Send(&signaling.Message{Type: t, TargetPeerID: peerID, Payload: payload}); err != nil {
		return NewError("send "+string(t), err)
	}
	return nil
}

// drop forgets the link to peerID if it still uses pc. A peer whose channel
// was open is reported as disconnected.
func (m *Mesh) drop(peerID string, pc *pion.PeerConnection) {
	m.mu.Lock()
	l := m.links[peerID]
	if l == nil || l.pc != pc {
		m.mu.Unlock()
		return
	}
	delete(m.links, peerID)
	wasOpen := l.open
	h := m.handler
	m.mu.Unlock()

	pc.Close()
	if wasOpen {
		m.logger.Info("data channel closed", "peer", peerID)
		if h != nil {
			h.PeerDisconnected(peerID)
		}
	}
}

// Send writes one frame to peerID.
func (m *Mesh) Send(peerID string, data []byte) error {
	m.mu.Lock()
	l := m.links[peerID]
	if l == nil || !l.open {
		m.mu.Unlock()
		return WrapError("send", ErrChannelClosed, peerID)
	}
	dc := l.dc
	m.mu.Unlock()
	if err := dc.Send(data); err != nil {
		return WrapError("send", err, peerID)
	}
	return nil
}

// Broadcast writes one frame to every open channel except the excluded
// peers.
func (m *Mesh) Broadcast(data []byte, exclude ...string) error {
	type target struct {
		peerID string
		dc     *pion.DataChannel
	}
	m.mu.Lock()
	var targets []target
	for id, l := range m.links {
		if l.open && !slices.Contains(exclude, id) {
			targets = append(targets, target{id, l.dc})
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, t := range targets {
		if err := t.dc.Send(data); err != nil {
			errs = append(errs, WrapError("broadcast", err, t.peerID))
		}
	}
	return errors.Join(errs...)
}

// Close tears down the link to peerID without reporting a disconnect.
func (m *Mesh) Close(peerID string) {
	m.mu.Lock()
	l := m.links[peerID]
	delete(m.links, peerID)
	delete(m.early, peerID)
	m.mu.Unlock()
	if l != nil {
		l.pc.Close()
	}
}

// CloseAll tears down every link.
func (m *Mesh) CloseAll() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*link)
	m.early = make(map[string][]pion.ICECandidateInit)
	m.mu.Unlock()
	for _, l := range links {
		l.pc.Close()
	}
}
