package signaling

import "fmt"

// MessageType represents the type of signaling message
type MessageType string

const (
	// MessageTypeAuth carries the bearer credential right after connect
	MessageTypeAuth MessageType = "auth"
	// MessageTypeAuthResult is the server's verdict on an auth frame
	MessageTypeAuthResult MessageType = "auth-result"
	// MessageTypeInvite asks the server to start a call to another user
	MessageTypeInvite MessageType = "invite"
	// MessageTypeRingAck acknowledges an invite and carries the assigned call ID
	MessageTypeRingAck MessageType = "ring-ack"
	// MessageTypeAnswerDecision is the callee's accept/reject verdict
	MessageTypeAnswerDecision MessageType = "answer-decision"
	// MessageTypeSessionDescription relays an SDP offer or answer
	MessageTypeSessionDescription MessageType = "session-description"
	// MessageTypeCandidate relays one ICE candidate
	MessageTypeCandidate MessageType = "candidate"
	// MessageTypeEnd terminates a call
	MessageTypeEnd MessageType = "end"
	// MessageTypeError reports a server-side failure
	MessageTypeError MessageType = "error"
)

// DescriptionRole distinguishes SDP offers from answers
type DescriptionRole string

const (
	RoleOffer  DescriptionRole = "offer"
	RoleAnswer DescriptionRole = "answer"
)

// End / rejection reasons carried on the wire
const (
	ReasonDeclined         = "declined"
	ReasonTimeout          = "timeout"
	ReasonBusy             = "busy"
	ReasonHangup           = "hangup"
	ReasonGlare            = "glare"
	ReasonConnectivityLost = "connectivity-lost"
)

// Message is the single wire envelope for all signaling traffic.
// Only the fields relevant to Type are populated; Validate enforces
// the per-type contract before a message reaches the call core.
// FromUserID is stamped server-side from the authenticated connection
// and never trusted from the client payload.
type Message struct {
	Type       MessageType `json:"type"`
	CallID     string      `json:"call_id,omitempty"`
	FromUserID string      `json:"from_user_id,omitempty"`
	ToUserID   string      `json:"to_user_id,omitempty"`

	// invite
	MediaKind string `json:"media_kind,omitempty"`

	// answer-decision
	Accepted *bool `json:"accepted,omitempty"`

	// session-description / candidate
	Role  DescriptionRole `json:"role,omitempty"`
	SDP   string          `json:"sdp,omitempty"`
	Mid   *string         `json:"mid,omitempty"`
	Index *uint16         `json:"index,omitempty"`

	// answer-decision / end
	Reason string `json:"reason,omitempty"`

	// auth / auth-result
	Token string `json:"token,omitempty"`
	OK    bool   `json:"ok,omitempty"`

	// error
	Text string `json:"message,omitempty"`
}

// Validate checks the per-type field contract.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageTypeAuth:
		if m.Token == "" {
			return fmt.Errorf("%w: auth without token", ErrInvalidMessage)
		}
	case MessageTypeAuthResult:
		// OK=false with no other fields is a valid rejection
	case MessageTypeInvite:
		if m.ToUserID == "" {
			return fmt.Errorf("%w: invite without target user", ErrInvalidMessage)
		}
		if m.MediaKind == "" {
			return fmt.Errorf("%w: invite without media kind", ErrInvalidMessage)
		}
	case MessageTypeRingAck:
		if m.CallID == "" {
			return fmt.Errorf("%w: ring-ack without call ID", ErrInvalidMessage)
		}
	case MessageTypeAnswerDecision:
		if m.CallID == "" {
			return fmt.Errorf("%w: answer-decision without call ID", ErrInvalidMessage)
		}
		if m.Accepted == nil {
			return fmt.Errorf("%w: answer-decision without verdict", ErrInvalidMessage)
		}
	case MessageTypeSessionDescription:
		if m.CallID == "" {
			return fmt.Errorf("%w: session-description without call ID", ErrInvalidMessage)
		}
		if m.Role != RoleOffer && m.Role != RoleAnswer {
			return fmt.Errorf("%w: session-description with role %q", ErrInvalidMessage, m.Role)
		}
		if m.SDP == "" {
			return fmt.Errorf("%w: session-description without SDP", ErrInvalidMessage)
		}
	case MessageTypeCandidate:
		if m.CallID == "" {
			return fmt.Errorf("%w: candidate without call ID", ErrInvalidMessage)
		}
		if m.SDP == "" {
			return fmt.Errorf("%w: candidate without payload", ErrInvalidMessage)
		}
	case MessageTypeEnd:
		if m.CallID == "" {
			return fmt.Errorf("%w: end without call ID", ErrInvalidMessage)
		}
	case MessageTypeError:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// NewInvite builds an invite for the given target user.
func NewInvite(toUserID, mediaKind string) Message {
	return Message{Type: MessageTypeInvite, ToUserID: toUserID, MediaKind: mediaKind}
}

// NewAnswerDecision builds the callee's verdict for a call.
// Reason is only meaningful when accepted is false.
func NewAnswerDecision(callID string, accepted bool, reason string) Message {
	m := Message{Type: MessageTypeAnswerDecision, CallID: callID, Accepted: &accepted}
	if !accepted {
		m.Reason = reason
	}
	return m
}

// NewSessionDescription builds an SDP relay message.
func NewSessionDescription(callID string, role DescriptionRole, sdp string) Message {
	return Message{Type: MessageTypeSessionDescription, CallID: callID, Role: role, SDP: sdp}
}

// NewCandidate builds an ICE candidate relay message.
func NewCandidate(callID, sdp string, mid *string, index *uint16) Message {
	return Message{Type: MessageTypeCandidate, CallID: callID, SDP: sdp, Mid: mid, Index: index}
}

// NewEnd builds a call termination message.
func NewEnd(callID, reason string) Message {
	return Message{Type: MessageTypeEnd, CallID: callID, Reason: reason}
}
