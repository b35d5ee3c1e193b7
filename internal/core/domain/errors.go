package domain

import "errors"

var (
	ErrRoomFull           = errors.New("room is full")
	ErrNegotiationCollide = errors.New("offer collision")
	ErrStaleAnswer        = errors.New("answer outside offer-sent state")
	ErrMediaUnavailable   = errors.New("media capture unavailable")
	ErrTransportLost      = errors.New("signaling transport lost")
	ErrNoResponse         = errors.New("no answer from remote peer")
	ErrSessionClosed      = errors.New("session closed")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrNotInitiator       = errors.New("only the initiator creates offers")
)
