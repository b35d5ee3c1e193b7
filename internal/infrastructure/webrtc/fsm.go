package webrtc

import (
	"fmt"

	"koma/internal/core/domain"
)

type negotiationEvent int

const (
	evLocalOffer negotiationEvent = iota
	evRemoteOffer
	evRemoteAnswer
	evAnswerSent
	evAnswerTimeout
	evPeerLeft
	evAborted
	evClose
)

func (e negotiationEvent) String() string {
	switch e {
	case evLocalOffer:
		return "local-offer"
	case evRemoteOffer:
		return "remote-offer"
	case evRemoteAnswer:
		return "remote-answer"
	case evAnswerSent:
		return "answer-sent"
	case evAnswerTimeout:
		return "answer-timeout"
	case evPeerLeft:
		return "peer-left"
	case evAborted:
		return "aborted"
	case evClose:
		return "close"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// transitions lists every legal move. Aborted returns to stable when a
// description could not be applied. Close is accepted from any state and is
// handled outside the table.
var transitions = map[domain.NegotiationState]map[negotiationEvent]domain.NegotiationState{
	domain.StateStable: {
		evLocalOffer:  domain.StateOfferSent,
		evRemoteOffer: domain.StateOfferReceivedPending,
		evPeerLeft:    domain.StateStable,
	},
	domain.StateOfferSent: {
		evRemoteAnswer:  domain.StateStable,
		evRemoteOffer:   domain.StateOfferReceivedPending,
		evAnswerTimeout: domain.StateStable,
		evPeerLeft:      domain.StateStable,
		evAborted:       domain.StateStable,
	},
	domain.StateOfferReceivedPending: {
		evAnswerSent:  domain.StateStable,
		evRemoteOffer: domain.StateOfferReceivedPending,
		evPeerLeft:    domain.StateStable,
		evAborted:     domain.StateStable,
	},
}

// next returns the state reached from s on ev, or false if the move is not in
// the table.
func next(s domain.NegotiationState, ev negotiationEvent) (domain.NegotiationState, bool) {
	if ev == evClose {
		return domain.StateClosed, true
	}
	to, ok := transitions[s][ev]
	return to, ok
}
