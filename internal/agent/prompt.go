package agent

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/bueller/bueller/internal/conversation"
	"github.com/bueller/bueller/internal/types"
)

type promptData struct {
	IssueName string
	WorkDir   string
	Iteration int
	Messages  []types.Message
	Done      string
	Continue  string
	Stuck     string
}

var (
	systemTemplate = template.Must(template.New("system").Parse(systemPromptTemplate))
	cliTemplate    = template.Must(template.New("cli").Parse(cliPromptTemplate))
)

func newPromptData(req Request) promptData {
	return promptData{
		IssueName: req.IssueName,
		WorkDir:   req.WorkDir,
		Iteration: req.Iteration,
		Messages:  req.Messages,
		Done:      conversation.StatusMarker(types.SignalDone),
		Continue:  conversation.StatusMarker(types.SignalContinue),
		Stuck:     conversation.StatusMarker(types.SignalStuck),
	}
}

// SystemPrompt renders the instructions given to API backends.
func SystemPrompt(req Request) (string, error) {
	return render(systemTemplate, newPromptData(req))
}

// CLIPrompt renders the instructions and the full transcript as one prompt
// for agents that take a single input.
func CLIPrompt(req Request) (string, error) {
	return render(cliTemplate, newPromptData(req))
}

func render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// role is a chat role shared by the API backends.
type role string

const (
	roleUser      role = "user"
	roleAssistant role = "assistant"
)

type turn struct {
	Role    role
	Content string
}

// chatTurns maps the conversation onto chat roles. Adjacent turns by the
// same author are merged. The result always starts and ends with a user
// turn, synthesizing one where the conversation does not.
func chatTurns(req Request) []turn {
	turns := make([]turn, 0, len(req.Messages)+2)
	for _, m := range req.Messages {
		r := roleUser
		if m.Author == types.AuthorClaude {
			r = roleAssistant
		}
		if n := len(turns); n > 0 && turns[n-1].Role == r {
			turns[n-1].Content += "\n\n" + m.Content
			continue
		}
		turns = append(turns, turn{Role: r, Content: m.Content})
	}

	if len(turns) == 0 || turns[0].Role != roleUser {
		opening := turn{Role: roleUser, Content: fmt.Sprintf("Work on issue %s.", req.IssueName)}
		turns = append([]turn{opening}, turns...)
	}
	if turns[len(turns)-1].Role != roleUser {
		turns = append(turns, turn{Role: roleUser, Content: "Continue working on this issue."})
	}
	for i := range turns {
		if strings.TrimSpace(turns[i].Content) == "" {
			turns[i].Content = "(empty)"
		}
	}
	return turns
}

const statusInstructions = `When you finish your reply, end it with exactly one line that reports the state of the issue:
{{.Done}}      the issue is fully resolved
{{.Continue}}  you made progress and need another turn
{{.Stuck}}     you cannot proceed without human help`

const systemPromptTemplate = `You are an autonomous software agent resolving issue {{.IssueName}}.
Your working directory is {{.WorkDir}}. Every file path you use is relative to it; you cannot leave it.
This is iteration {{.Iteration}}.

Use the tools to inspect and change files and to run commands. Do the work rather than describing it.
Keep your written reply short: summarize what you did and what remains.

` + statusInstructions + "\n"

const cliPromptTemplate = `You are an autonomous software agent resolving issue {{.IssueName}}.
Your working directory is {{.WorkDir}}. This is iteration {{.Iteration}}.

The issue is a conversation between a user and you. Read it, do the work it asks for in the working directory, then reply.
Keep your written reply short: summarize what you did and what remains.

` + statusInstructions + `

# Conversation
{{range .Messages}}
## @{{.Author}}

{{.Content}}
{{else}}
(The conversation is empty. Inspect the working directory and decide whether there is anything to do.)
{{end}}`
