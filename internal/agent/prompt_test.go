package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bueller/bueller/internal/conversation"
	"github.com/bueller/bueller/internal/types"
)

func msg(i int, a types.Author, c string) types.Message {
	return types.Message{Index: i, Author: a, Content: c}
}

func TestChatTurns(t *testing.T) {
	tests := []struct {
		name     string
		messages []types.Message
		want     []turn
	}{
		{
			name: "empty conversation gets an opening turn",
			want: []turn{{Role: roleUser, Content: "Work on issue a.md."}},
		},
		{
			name:     "single user turn",
			messages: []types.Message{msg(0, types.AuthorUser, "Create hello.txt")},
			want:     []turn{{Role: roleUser, Content: "Create hello.txt"}},
		},
		{
			name: "adjacent turns merge",
			messages: []types.Message{
				msg(0, types.AuthorUser, "one"),
				msg(1, types.AuthorUser, "two"),
				msg(2, types.AuthorClaude, "three"),
				msg(3, types.AuthorUser, "four"),
			},
			want: []turn{
				{Role: roleUser, Content: "one\n\ntwo"},
				{Role: roleAssistant, Content: "three"},
				{Role: roleUser, Content: "four"},
			},
		},
		{
			name: "leading and trailing agent turns are bracketed",
			messages: []types.Message{
				msg(0, types.AuthorClaude, "I looked around"),
			},
			want: []turn{
				{Role: roleUser, Content: "Work on issue a.md."},
				{Role: roleAssistant, Content: "I looked around"},
				{Role: roleUser, Content: "Continue working on this issue."},
			},
		},
		{
			name:     "blank content is replaced",
			messages: []types.Message{msg(0, types.AuthorUser, "")},
			want:     []turn{{Role: roleUser, Content: "(empty)"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chatTurns(Request{IssueName: "a.md", Messages: tt.messages})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSystemPromptNamesMarkers(t *testing.T) {
	prompt, err := SystemPrompt(Request{IssueName: "p1-001-x.md", WorkDir: "/repo", Iteration: 2})
	require.NoError(t, err)
	for _, s := range []types.Signal{types.SignalDone, types.SignalContinue, types.SignalStuck} {
		assert.Contains(t, prompt, conversation.StatusMarker(s))
	}
	assert.Contains(t, prompt, "p1-001-x.md")
	assert.Contains(t, prompt, "/repo")
	assert.Contains(t, prompt, "iteration 2")
}
