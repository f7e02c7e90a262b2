package executor

import (
	"fmt"
	"io"
	"strings"

	"remotebuild/internal/pipeline/types"
)

// FilterPhase returns the commands belonging to phase, in list order.
func FilterPhase(commands []types.Command, phase types.Phase) []types.Command {
	var out []types.Command
	for _, c := range commands {
		if types.PhaseOf(c) == phase {
			out = append(out, c)
		}
	}
	return out
}

// CompileScript joins the commands of phase into one script, each followed
// by a newline. Command text is passed through unquoted.
func CompileScript(commands []types.Command, phase types.Phase) string {
	var b strings.Builder
	for _, c := range FilterPhase(commands, phase) {
		b.WriteString(c.Command)
		b.WriteByte('\n')
	}
	return b.String()
}

// ExecutePhase runs the commands of phase as a single script on one exec
// channel and returns the combined stdout and stderr. An empty phase still
// runs an empty script. A nonzero exit is returned as an ExitStatusError
// alongside the captured output.
func ExecutePhase(session types.RemoteSession, commands []types.Command, phase types.Phase) (string, error) {
	script := CompileScript(commands, phase)

	ch, err := session.Exec(script)
	if err != nil {
		return "", types.NewError(types.KindTransport, "", fmt.Errorf("failed to open exec channel: %w", err))
	}
	defer ch.Close()

	var out strings.Builder
	if _, err := io.Copy(&out, ch); err != nil {
		return out.String(), types.NewError(types.KindTransport, "", fmt.Errorf("failed to read command output: %w", err))
	}
	if err := ch.Wait(); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}
