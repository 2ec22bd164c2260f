package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// SignalType represents the type of a live-session signaling message
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
	SignalTypeSlide     SignalType = "slide"
)

var (
	ErrUnknownSignal   = errors.New("unknown signal type")
	ErrMalformedSignal = errors.New("malformed signal")
)

// Message is one of Offer, Answer, Candidate or Slide.
type Message interface {
	Type() SignalType
	signal()
}

// Offer carries the teacher's session description.
type Offer struct {
	NegotiationID string
	Description   webrtc.SessionDescription
}

// Answer carries the student's reply to the offer with the same NegotiationID.
type Answer struct {
	NegotiationID string
	Description   webrtc.SessionDescription
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	Candidate webrtc.ICECandidateInit
}

// Slide announces the slide index the teacher is showing.
type Slide struct {
	Index int
}

func (Offer) Type() SignalType     { return SignalTypeOffer }
func (Answer) Type() SignalType    { return SignalTypeAnswer }
func (Candidate) Type() SignalType { return SignalTypeCandidate }
func (Slide) Type() SignalType     { return SignalTypeSlide }

func (Offer) signal()     {}
func (Answer) signal()    {}
func (Candidate) signal() {}
func (Slide) signal()     {}

// Envelope is a decoded message together with the participant that sent it.
type Envelope struct {
	From    string
	Message Message
}

// wireSignal is the JSON form exchanged over the channel
type wireSignal struct {
	Type          SignalType                 `json:"type"`
	From          string                     `json:"from"`
	NegotiationID string                     `json:"negotiationId,omitempty"`
	Offer         *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer        *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate     *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	SlideIndex    *int                       `json:"slideIndex,omitempty"`
}

// Encode serializes msg as sent by participant from.
func Encode(from string, msg Message) ([]byte, error) {
	w := wireSignal{From: from}

	switch m := msg.(type) {
	case Offer:
		w.Type = SignalTypeOffer
		w.NegotiationID = m.NegotiationID
		desc := m.Description
		w.Offer = &desc
	case Answer:
		w.Type = SignalTypeAnswer
		w.NegotiationID = m.NegotiationID
		desc := m.Description
		w.Answer = &desc
	case Candidate:
		w.Type = SignalTypeCandidate
		c := m.Candidate
		w.Candidate = &c
	case Slide:
		w.Type = SignalTypeSlide
		idx := m.Index
		w.SlideIndex = &idx
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownSignal, msg)
	}

	return json.Marshal(w)
}

// Decode parses a wire message. Unknown types and partially formed payloads
// are rejected rather than passed on.
func Decode(data []byte) (Envelope, error) {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	if w.From == "" {
		return Envelope{}, fmt.Errorf("%w: missing sender", ErrMalformedSignal)
	}

	env := Envelope{From: w.From}

	switch w.Type {
	case SignalTypeOffer:
		if w.Offer == nil || w.Offer.Type != webrtc.SDPTypeOffer || w.Offer.SDP == "" {
			return Envelope{}, fmt.Errorf("%w: offer without offer description", ErrMalformedSignal)
		}
		if w.NegotiationID == "" {
			return Envelope{}, fmt.Errorf("%w: offer without negotiation id", ErrMalformedSignal)
		}
		env.Message = Offer{NegotiationID: w.NegotiationID, Description: *w.Offer}
	case SignalTypeAnswer:
		if w.Answer == nil || w.Answer.Type != webrtc.SDPTypeAnswer || w.Answer.SDP == "" {
			return Envelope{}, fmt.Errorf("%w: answer without answer description", ErrMalformedSignal)
		}
		env.Message = Answer{NegotiationID: w.NegotiationID, Description: *w.Answer}
	case SignalTypeCandidate:
		if w.Candidate == nil || w.Candidate.Candidate == "" {
			return Envelope{}, fmt.Errorf("%w: empty candidate", ErrMalformedSignal)
		}
		env.Message = Candidate{Candidate: *w.Candidate}
	case SignalTypeSlide:
		if w.SlideIndex == nil {
			return Envelope{}, fmt.Errorf("%w: slide without index", ErrMalformedSignal)
		}
		env.Message = Slide{Index: *w.SlideIndex}
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownSignal, w.Type)
	}

	return env, nil
}
