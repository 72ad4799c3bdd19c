package brain

import (
	"testing"
	"time"

	"github.com/ringline-ai/ringline/pkg/types"
)

func turn(role types.Role, content string) types.Turn {
	return types.Turn{Role: role, Content: content, Timestamp: time.Now()}
}

func TestIsFarewell(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Goodbye!", true},
		{"Thanks for calling, have a great day!", true},
		{"bye", true},
		{"Take care now.", true},
		{"We open at nine.", false},
		{"", false},
		{"The bypass valve is under the sink.", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := IsFarewell(tt.text); got != tt.want {
				t.Errorf("IsFarewell(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestPromoteGoodbye_PromotesAfterClosingQuestion(t *testing.T) {
	history := []types.Turn{
		turn(types.RoleUser, "what are your hours"),
		turn(types.RoleAssistant, "Nine to five. Anything else I can help with?"),
		turn(types.RoleUser, "no that's all"),
	}
	reply := &Reply{Text: "Great, have a wonderful day!"}
	PromoteGoodbye(reply, history)
	if reply.Hangup == nil {
		t.Fatal("expected reply promoted to hangup")
	}
	if reply.Hangup.GoodbyeMessage != reply.Text {
		t.Errorf("GoodbyeMessage = %q; want reply text", reply.Hangup.GoodbyeMessage)
	}
}

func TestPromoteGoodbye_NoClosingQuestion_NoPromotion(t *testing.T) {
	history := []types.Turn{
		turn(types.RoleAssistant, "We open at nine tomorrow."),
		turn(types.RoleUser, "ok bye"),
	}
	reply := &Reply{Text: "Goodbye!"}
	PromoteGoodbye(reply, history)
	if reply.Hangup != nil {
		t.Error("should not promote without a prior closing question")
	}
}

func TestPromoteGoodbye_NotAFarewell_NoPromotion(t *testing.T) {
	history := []types.Turn{
		turn(types.RoleAssistant, "Anything else I can help with?"),
	}
	reply := &Reply{Text: "Sure, our address is 12 Main Street."}
	PromoteGoodbye(reply, history)
	if reply.Hangup != nil {
		t.Error("non-farewell text must not be promoted")
	}
}

func TestPromoteGoodbye_ExplicitToolWins(t *testing.T) {
	history := []types.Turn{
		turn(types.RoleAssistant, "Anything else I can help with?"),
	}
	reply := &Reply{
		Text:     "Have a great day!",
		Transfer: &Transfer{To: "+15550100", MessageToCaller: "Connecting you."},
	}
	PromoteGoodbye(reply, history)
	if reply.Hangup != nil {
		t.Error("explicit transfer outcome must not be overridden by the heuristic")
	}
	if reply.Transfer == nil {
		t.Error("transfer should be untouched")
	}
}

func TestPromoteGoodbye_ExistingHangupUnchanged(t *testing.T) {
	history := []types.Turn{
		turn(types.RoleAssistant, "Anything else I can help with?"),
	}
	reply := &Reply{
		Text:   "Have a great day!",
		Hangup: &Hangup{GoodbyeMessage: "from tool"},
	}
	PromoteGoodbye(reply, history)
	if reply.Hangup.GoodbyeMessage != "from tool" {
		t.Errorf("GoodbyeMessage = %q; want from tool", reply.Hangup.GoodbyeMessage)
	}
}

func TestPromoteGoodbye_EmptyHistory_NoPromotion(t *testing.T) {
	reply := &Reply{Text: "Goodbye!"}
	PromoteGoodbye(reply, nil)
	if reply.Hangup != nil {
		t.Error("empty history must not promote")
	}
}
