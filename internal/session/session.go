// Package session ties one participant's signaling channel, peer connection
// and slide engine into a live session with a single owner and an explicit
// end.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/mossy-p/liveclass/internal/media"
	"github.com/mossy-p/liveclass/internal/models"
	"github.com/mossy-p/liveclass/internal/peer"
	"github.com/mossy-p/liveclass/internal/signaling"
	"github.com/mossy-p/liveclass/internal/slides"
)

var ErrEnded = errors.New("live session ended")

// Options describe the session to start or join.
type Options struct {
	ClassID       string
	ParticipantID string
	Transport     signaling.Transport

	// Source is required to start a session and unused when joining.
	Source media.Source

	Surface slides.Surface
	Slides  *slides.Set

	Peer        peer.Config
	PeerOptions []peer.Option

	// OnFailure is called once if negotiation fails after the session was
	// returned, with an error wrapping peer.ErrNegotiationFailed or
	// peer.ErrNegotiationTimeout.
	OnFailure func(error)
}

// LiveSession is one participant's view of a live class.
type LiveSession struct {
	role    models.Role
	id      string
	channel string

	adapter *signaling.Adapter
	engine  *slides.Engine
	manager *peer.Manager
	handle  *signaling.Handle

	// ctx is cancelled by End; callbacks check it before touching state.
	ctx     context.Context
	cancel  context.CancelFunc
	ready   chan struct{}
	endOnce sync.Once
	endErr  error
}

type sender struct{ s *LiveSession }

func (p sender) Send(ctx context.Context, msg models.Message) error {
	if p.s.ctx.Err() != nil {
		return ErrEnded
	}
	return p.s.handle.Send(ctx, msg)
}

func newSession(role models.Role, opts Options) *LiveSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &LiveSession{
		role:    role,
		channel: signaling.ChannelName(opts.ClassID),
		engine:  slides.NewEngine(opts.Surface),
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
	}
	s.adapter = signaling.NewAdapter(opts.Transport, opts.ParticipantID)
	s.id = s.adapter.ID()

	if opts.Slides != nil {
		s.engine.Load(opts.Slides)
	}

	peerOpts := append([]peer.Option{peer.WithLogID(s.id)}, opts.PeerOptions...)
	s.manager = peer.NewManager(role, sender{s}, opts.Peer, peerOpts...)
	return s
}

// StartTeacher acquires the local media, joins the class channel and
// publishes an offer. Media failure is reported before anything is joined.
func StartTeacher(ctx context.Context, opts Options) (*LiveSession, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("start live session: %w", media.ErrDeviceUnavailable)
	}
	stream, err := opts.Source.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("start live session: %w", err)
	}

	s := newSession(models.RoleTeacher, opts)
	if err := s.join(); err != nil {
		stream.Release()
		s.End()
		return nil, err
	}
	s.engine.Attach(sender{s}, s.id)
	close(s.ready)

	if err := s.manager.Start(ctx, stream); err != nil {
		s.End()
		return nil, fmt.Errorf("start live session: %w", err)
	}
	s.watch(opts.OnFailure)

	log.Printf("[%s] Live session started on %s", s.id, s.channel)
	return s, nil
}

// JoinStudent joins the class channel and waits for the teacher's offer,
// which may already be on the channel.
func JoinStudent(ctx context.Context, opts Options) (*LiveSession, error) {
	s := newSession(models.RoleStudent, opts)
	if err := s.join(); err != nil {
		s.End()
		return nil, err
	}
	if err := s.manager.Join(ctx); err != nil {
		s.End()
		return nil, fmt.Errorf("join live session: %w", err)
	}
	close(s.ready)
	s.watch(opts.OnFailure)

	log.Printf("[%s] Joined live session on %s", s.id, s.channel)
	return s, nil
}

// join subscribes for the lifetime of the session.
func (s *LiveSession) join() error {
	handle, err := s.adapter.Join(s.ctx, s.channel, s.onSignal)
	if err != nil {
		return fmt.Errorf("join %s: %w", s.channel, err)
	}
	s.handle = handle
	return nil
}

// onSignal runs on the handle's dispatch goroutine, one message at a time.
func (s *LiveSession) onSignal(env models.Envelope) {
	select {
	case <-s.ready:
	case <-s.ctx.Done():
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	if msg, ok := env.Message.(models.Slide); ok {
		// Only the teacher whose offer was answered moves a student's slides.
		if s.role == models.RoleStudent && env.From == s.manager.RemotePeer() {
			s.engine.Follow(msg)
		}
		return
	}

	if err := s.manager.HandleSignal(s.ctx, env); err != nil && s.ctx.Err() == nil {
		log.Printf("[%s] %s from %s: %v", s.id, env.Message.Type(), env.From, err)
	}
}

func (s *LiveSession) watch(onFailure func(error)) {
	go func() {
		err := s.manager.WaitConnected(s.ctx)
		if err == nil || s.ctx.Err() != nil {
			return
		}
		log.Printf("[%s] Could not establish live session: %v", s.id, err)
		if onFailure != nil {
			onFailure(err)
		}
	}()
}

func (s *LiveSession) Role() models.Role { return s.role }
func (s *LiveSession) ID() string { return s.id }
func (s *LiveSession) Channel() string { return s.channel }
func (s *LiveSession) Slides() *slides.Engine { return s.engine }
func (s *LiveSession) Peer() *peer.Manager { return s.manager }

// WaitConnected blocks until negotiation completes or fails.
func (s *LiveSession) WaitConnected(ctx context.Context) error {
	return s.manager.WaitConnected(ctx)
}

// GoTo shows slide i. On the teacher's side the students follow.
func (s *LiveSession) GoTo(ctx context.Context, i int) bool {
	if s.ctx.Err() != nil {
		return false
	}
	return s.engine.GoTo(ctx, i)
}

// End closes the peer connection, leaves the channel and releases the
// slides. It is safe to call more than once.
func (s *LiveSession) End() error {
	s.endOnce.Do(func() {
		s.cancel()
		if s.handle != nil {
			s.handle.Close()
		}
		s.endErr = s.manager.Close()
		s.engine.Unload()
		log.Printf("[%s] Live session on %s ended", s.id, s.channel)
	})
	return s.endErr
}

// Host owns at most one live session at a time.
type Host struct {
	mu      sync.Mutex
	current *LiveSession
}

// Replace ends the current session, if any, before starting the next one.
func (h *Host) Replace(ctx context.Context, start func(context.Context) (*LiveSession, error)) (*LiveSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil {
		h.current.End()
		h.current = nil
	}
	s, err := start(ctx)
	if err != nil {
		return nil, err
	}
	h.current = s
	return s, nil
}

func (h *Host) Current() *LiveSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// End ends the current session, if any.
func (h *Host) End() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return nil
	}
	err := h.current.End()
	h.current = nil
	return err
}
