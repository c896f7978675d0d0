package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bueller/bueller/internal/types"
)

// StatusPrefix starts the marker line an agent emits to classify its turn.
const StatusPrefix = "STATUS:"

// Matches "STATUS: DONE", "**Status:** stuck", "`STATUS: CONTINUE`" and so on.
var statusLine = regexp.MustCompile(`(?i)^[\s*_` + "`" + `>#-]*status[\s*_` + "`" + `]*:[\s*_` + "`" + `]*(done|continue|stuck)[\s*_` + "`" + `.!]*$`)

// StatusMarker returns the marker line for a signal.
func StatusMarker(s types.Signal) string {
	return fmt.Sprintf("%s %s", StatusPrefix, strings.ToUpper(string(s)))
}

// ClassifySignal inspects an agent turn for its termination marker. The last
// marker line wins. A turn without a marker asks for another iteration.
func ClassifySignal(content string) types.Signal {
	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		m := statusLine.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		return types.Signal(strings.ToLower(m[1]))
	}
	return types.SignalContinue
}
