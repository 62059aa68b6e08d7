package signaling

import (
	"errors"
	"testing"
)

func TestMessageValidate(t *testing.T) {
	yes := true
	valid := []Message{
		{Type: MessageTypeAuth, Token: "t"},
		{Type: MessageTypeAuthResult},
		NewInvite("bob", "voice"),
		{Type: MessageTypeRingAck, CallID: "c1"},
		NewAnswerDecision("c1", false, ReasonDeclined),
		NewSessionDescription("c1", RoleOffer, "sdp"),
		NewCandidate("c1", "cand", nil, nil),
		NewEnd("c1", ReasonHangup),
		{Type: MessageTypeError, Text: "boom"},
	}
	for _, msg := range valid {
		if err := msg.Validate(); err != nil {
			t.Errorf("%s should be valid: %v", msg.Type, err)
		}
	}

	invalid := []Message{
		{Type: MessageTypeAuth},
		{Type: MessageTypeInvite, ToUserID: "bob"},
		{Type: MessageTypeInvite, MediaKind: "voice"},
		{Type: MessageTypeRingAck},
		{Type: MessageTypeAnswerDecision, CallID: "c1"},
		{Type: MessageTypeAnswerDecision, Accepted: &yes},
		{Type: MessageTypeSessionDescription, CallID: "c1", Role: "bogus", SDP: "sdp"},
		{Type: MessageTypeSessionDescription, CallID: "c1", Role: RoleOffer},
		{Type: MessageTypeCandidate, CallID: "c1"},
		{Type: MessageTypeEnd},
		{Type: "mystery"},
	}
	for _, msg := range invalid {
		if err := msg.Validate(); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("%s/%q should be invalid, got %v", msg.Type, msg.Role, err)
		}
	}
}
