// Package peer owns the single WebRTC peer connection of a live-session
// participant and drives offer/answer/candidate exchange over a signaling
// channel.
//
// The connection is one teacher to one student. Once a student has answered,
// answers and candidates from any other participant are refused.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/liveclass/internal/media"
	"github.com/mossy-p/liveclass/internal/models"
	"github.com/mossy-p/liveclass/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// State is the negotiation state of a Manager.
type State int

const (
	Idle State = iota
	Negotiating
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrNegotiationFailed    = errors.New("could not establish live session")
	ErrNegotiationTimeout   = errors.New("negotiation timed out")
	ErrUnexpectedAnswer     = errors.New("answer does not match a pending offer")
	ErrUnexpectedOffer      = errors.New("offer not expected")
	ErrPeerAlreadyConnected = errors.New("live session already has a connected peer")
	ErrClosed               = errors.New("peer connection closed")
	ErrInvalidState         = errors.New("invalid state for operation")
)

// Config controls peer connection creation.
type Config struct {
	ICEServers         []string
	NegotiationTimeout time.Duration // how long a student waits for an offer; zero disables
}

type pendingCandidate struct {
	from      string
	candidate webrtc.ICECandidateInit
}

// Manager is the peer connection state machine of one participant.
type Manager struct {
	role    models.Role
	id      string
	api     *webrtc.API
	cfg     Config
	sender  signaling.Sender
	onTrack func(*webrtc.TrackRemote)
	remote  RemoteStream

	// ctx is the lifecycle token; it ends when the manager closes.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	pc            *webrtc.PeerConnection
	local         *media.Stream
	negotiationID string
	remotePeer    string
	pending       []pendingCandidate
	timer         *time.Timer
	err           error
	connected     chan struct{}
	closed        chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithAPI shares a pion API between managers.
func WithAPI(api *webrtc.API) Option {
	return func(m *Manager) { m.api = api }
}

// WithLogID sets the prefix of log lines.
func WithLogID(id string) Option {
	return func(m *Manager) { m.id = id }
}

// OnRemoteTrack registers a callback run for every received track after it
// has been added to the remote stream.
func OnRemoteTrack(fn func(*webrtc.TrackRemote)) Option {
	return func(m *Manager) { m.onTrack = fn }
}

// NewManager returns an idle manager publishing through sender.
func NewManager(role models.Role, sender signaling.Sender, cfg Config, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		role:      role,
		id:        string(role),
		cfg:       cfg,
		sender:    sender,
		ctx:       ctx,
		cancel:    cancel,
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns why the manager closed, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// RemoteStream returns the container of received tracks.
func (m *Manager) RemoteStream() *RemoteStream {
	return &m.remote
}

// NegotiationID returns the ID of the offer sent or answered.
func (m *Manager) NegotiationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.negotiationID
}

// RemotePeer returns the participant ID of the accepted peer, or "" before
// an offer or answer has been accepted.
func (m *Manager) RemotePeer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remotePeer
}

// WaitConnected blocks until the manager is connected, closed, or ctx ends.
func (m *Manager) WaitConnected(ctx context.Context) error {
	select {
	case <-m.connected:
		return nil
	case <-m.closed:
		if err := m.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) alive() bool {
	return m.ctx.Err() == nil
}

// Start runs the teacher path: attach the local stream, create an offer, set
// it locally and publish it. The manager owns stream from here on and
// releases it on Close.
func (m *Manager) Start(ctx context.Context, stream *media.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.role != models.RoleTeacher {
		return fmt.Errorf("%w: only a teacher starts a session", ErrInvalidState)
	}
	if m.state != Idle {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, m.state)
	}
	if stream == nil {
		return fmt.Errorf("%w: no local stream", ErrNegotiationFailed)
	}

	m.local = stream
	m.state = Negotiating

	pc, err := m.newPeerConnection()
	if err != nil {
		return m.failLocked(err)
	}
	m.pc = pc

	for _, track := range stream.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return m.failLocked(fmt.Errorf("add track %s: %w", track.ID(), err))
		}
		go drainRTCP(sender)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return m.failLocked(fmt.Errorf("create offer: %w", err))
	}

	// The offer goes out before gathering starts so that it precedes every
	// trickled candidate. An early answer waits on m.mu.
	m.negotiationID = uuid.New().String()
	if err := m.sender.Send(ctx, models.Offer{NegotiationID: m.negotiationID, Description: offer}); err != nil {
		return m.failLocked(fmt.Errorf("publish offer: %w", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return m.failLocked(fmt.Errorf("set local description: %w", err))
	}

	// No timeout here: the offer stays retained on the channel and a
	// student may join at any point while the class is live.
	log.Printf("[%s] Offer %s published", m.id, m.negotiationID)
	return nil
}

// Join runs the student path: create the connection and wait for an offer.
func (m *Manager) Join(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.role != models.RoleStudent {
		return fmt.Errorf("%w: only a student joins a session", ErrInvalidState)
	}
	if m.state != Idle {
		return fmt.Errorf("%w: join from %s", ErrInvalidState, m.state)
	}

	m.state = Negotiating
	pc, err := m.newPeerConnection()
	if err != nil {
		return m.failLocked(err)
	}
	m.pc = pc

	m.armTimeoutLocked()
	return nil
}

// HandleSignal applies an inbound offer, answer or candidate. Candidate
// problems are logged and never returned. Offer/answer failures close the
// manager and are returned wrapped in ErrNegotiationFailed.
func (m *Manager) HandleSignal(ctx context.Context, env models.Envelope) error {
	switch msg := env.Message.(type) {
	case models.Offer:
		return m.handleOffer(ctx, env.From, msg)
	case models.Answer:
		return m.handleAnswer(env.From, msg)
	case models.Candidate:
		m.handleCandidate(env.From, msg.Candidate)
		return nil
	}
	return fmt.Errorf("%w: %s is not a negotiation signal", ErrInvalidState, env.Message.Type())
}

func (m *Manager) handleOffer(ctx context.Context, from string, offer models.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.role != models.RoleStudent {
		return ErrUnexpectedOffer
	}
	switch m.state {
	case Idle:
		return fmt.Errorf("%w: not joined", ErrUnexpectedOffer)
	case Closed:
		return ErrClosed
	}
	if m.negotiationID == offer.NegotiationID {
		// replayed copy of the offer already answered
		return nil
	}
	if m.negotiationID != "" {
		return fmt.Errorf("%w: offer %s ignored", ErrPeerAlreadyConnected, offer.NegotiationID)
	}

	if err := m.pc.SetRemoteDescription(offer.Description); err != nil {
		return m.failLocked(fmt.Errorf("set remote description: %w", err))
	}
	m.remotePeer = from
	m.flushPendingLocked()

	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return m.failLocked(fmt.Errorf("create answer: %w", err))
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return m.failLocked(fmt.Errorf("set local description: %w", err))
	}

	m.negotiationID = offer.NegotiationID
	if err := m.sender.Send(ctx, models.Answer{NegotiationID: offer.NegotiationID, Description: answer}); err != nil {
		return m.failLocked(fmt.Errorf("publish answer: %w", err))
	}

	m.connectLocked()
	log.Printf("[%s] Answered offer %s from %s", m.id, offer.NegotiationID, from)
	return nil
}

func (m *Manager) handleAnswer(from string, answer models.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.role != models.RoleTeacher {
		// answers from other students are not for us
		return nil
	}
	switch m.state {
	case Idle:
		return fmt.Errorf("%w: no offer sent", ErrUnexpectedAnswer)
	case Closed:
		return ErrClosed
	case Connected:
		return fmt.Errorf("%w: answer from %s ignored", ErrPeerAlreadyConnected, from)
	}
	if answer.NegotiationID != m.negotiationID {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedAnswer, answer.NegotiationID, m.negotiationID)
	}

	if err := m.pc.SetRemoteDescription(answer.Description); err != nil {
		return m.failLocked(fmt.Errorf("set remote description: %w", err))
	}
	m.remotePeer = from
	m.flushPendingLocked()
	m.connectLocked()

	log.Printf("[%s] Answer for %s accepted from %s", m.id, answer.NegotiationID, from)
	return nil
}

func (m *Manager) handleCandidate(from string, candidate webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Idle, Closed:
		log.Printf("[%s] Dropping candidate from %s in state %s", m.id, from, m.state)
		return
	}
	if m.remotePeer != "" && from != m.remotePeer {
		return
	}

	if m.pc.RemoteDescription() == nil {
		m.pending = append(m.pending, pendingCandidate{from: from, candidate: candidate})
		return
	}
	m.addCandidateLocked(candidate)
}

func (m *Manager) addCandidateLocked(candidate webrtc.ICECandidateInit) {
	if err := m.pc.AddICECandidate(candidate); err != nil {
		log.Printf("[%s] Failed to add ICE candidate: %v", m.id, err)
	}
}

// flushPendingLocked applies queued candidates from the accepted peer.
func (m *Manager) flushPendingLocked() {
	pending := m.pending
	m.pending = nil
	for _, p := range pending {
		if p.from == m.remotePeer {
			m.addCandidateLocked(p.candidate)
		}
	}
}

func (m *Manager) connectLocked() {
	m.state = Connected
	if m.timer != nil {
		m.timer.Stop()
	}
	close(m.connected)
}

func (m *Manager) armTimeoutLocked() {
	if m.cfg.NegotiationTimeout <= 0 {
		return
	}
	m.timer = time.AfterFunc(m.cfg.NegotiationTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state == Negotiating {
			m.failLocked(ErrNegotiationTimeout)
		}
	})
}

// failLocked closes the manager because negotiation cannot continue.
func (m *Manager) failLocked(err error) error {
	if !errors.Is(err, ErrNegotiationTimeout) {
		err = fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}
	if m.state != Closed {
		m.err = err
		log.Printf("[%s] Negotiation failed: %v", m.id, err)
		m.teardownLocked()
	}
	return err
}

// Close releases the local stream and closes the connection. It is safe from
// any state and more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return nil
	}
	return m.teardownLocked()
}

func (m *Manager) teardownLocked() error {
	m.state = Closed
	m.cancel()
	if m.timer != nil {
		m.timer.Stop()
	}
	close(m.closed)
	m.pending = nil

	var err error
	if m.pc != nil {
		err = m.pc.Close()
	}
	m.local.Release()
	return err
}

func (m *Manager) newPeerConnection() (*webrtc.PeerConnection, error) {
	if m.api == nil {
		api, err := NewAPI()
		if err != nil {
			return nil, err
		}
		m.api = api
	}

	config := webrtc.Configuration{}
	if len(m.cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: m.cfg.ICEServers}}
	}

	pc, err := m.api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	// Candidates are published as they are discovered.
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || !m.alive() {
			return
		}
		if err := m.sender.Send(m.ctx, models.Candidate{Candidate: candidate.ToJSON()}); err != nil && m.alive() {
			log.Printf("[%s] Failed to publish candidate: %v", m.id, err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !m.alive() {
			return
		}
		log.Printf("[%s] Received %s track %s", m.id, track.Kind(), track.ID())
		m.remote.add(track)
		if m.onTrack != nil {
			m.onTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] Connection state: %s", m.id, state.String())
	})

	return pc, nil
}

// drainRTCP reads and discards RTCP so the sender keeps working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
