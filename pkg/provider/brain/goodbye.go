package brain

import (
	"strings"

	"github.com/ringline-ai/ringline/pkg/types"
)

// farewellPhrases mark an assistant text as a likely conversation ending.
var farewellPhrases = []string{
	"goodbye",
	"good bye",
	"bye now",
	"bye!",
	"bye.",
	"take care",
	"have a great day",
	"have a good day",
	"have a wonderful day",
	"have a great night",
	"thanks for calling",
	"thank you for calling",
	"talk to you soon",
}

// closingQuestionPhrases mark an assistant turn as an "anything else?" style
// wrap-up question.
var closingQuestionPhrases = []string{
	"anything else",
	"something else i can help",
	"is there anything",
	"can i help you with anything",
	"what else can i",
}

// PromoteGoodbye applies the hangup heuristic: when the reply text is a
// farewell and the previous assistant turn asked a closing question, the
// reply is promoted to a hangup even though the brain emitted no end_call
// tool. An explicit tool outcome always takes precedence; replies that
// already carry a transfer or hangup are returned unchanged.
func PromoteGoodbye(reply *Reply, history []types.Turn) {
	if reply == nil || reply.Transfer != nil || reply.Hangup != nil {
		return
	}
	if !IsFarewell(reply.Text) {
		return
	}
	if prev, ok := lastAssistantTurn(history); !ok || !isClosingQuestion(prev.Content) {
		return
	}
	reply.Hangup = &Hangup{GoodbyeMessage: reply.Text}
}

// IsFarewell reports whether text reads as a conversation-ending farewell.
func IsFarewell(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	if lower == "bye" || lower == "bye bye" {
		return true
	}
	for _, phrase := range farewellPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// isClosingQuestion reports whether an assistant turn asked a wrap-up
// question such as "anything else I can help with?".
func isClosingQuestion(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "?") {
		return false
	}
	for _, phrase := range closingQuestionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// lastAssistantTurn returns the most recent assistant turn in history.
func lastAssistantTurn(history []types.Turn) (types.Turn, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == types.RoleAssistant {
			return history[i], true
		}
	}
	return types.Turn{}, false
}
