package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotebuild/internal/config"
	"remotebuild/internal/pipeline/sessiontest"
	"remotebuild/internal/pipeline/types"
	"remotebuild/internal/sshclient"
	"remotebuild/internal/util"
)

func init() {
	util.Default.SetOutput(io.Discard)
}

var phaseCommands = []types.Command{
	{Command: "A"},
	{Command: "B", ExecuteAfterCompilation: true},
	{Command: "C"},
}

func TestCompileScript(t *testing.T) {
	assert.Equal(t, "A\nC\n", CompileScript(phaseCommands, types.PhasePre))
	assert.Equal(t, "B\n", CompileScript(phaseCommands, types.PhasePost))
	assert.Equal(t, "", CompileScript(nil, types.PhasePre))
	assert.Equal(t, "", CompileScript([]types.Command{{Command: "A"}}, types.PhasePost))
}

func TestExecutePhase(t *testing.T) {
	sess := sessiontest.New()
	sess.ExecFunc = func(script string) (string, int, error) {
		return "ran:" + script, 0, nil
	}

	out, err := ExecutePhase(sess, phaseCommands, types.PhasePre)
	require.NoError(t, err)
	assert.Equal(t, "ran:A\nC\n", out)

	// an empty phase still opens a channel with an empty script
	out, err = ExecutePhase(sess, nil, types.PhasePost)
	require.NoError(t, err)
	assert.Equal(t, "ran:", out)
	assert.Equal(t, []string{"A\nC\n", ""}, sess.Scripts)
}

func TestExecutePhaseExitStatus(t *testing.T) {
	sess := sessiontest.New()
	sess.ExecFunc = func(script string) (string, int, error) {
		return "error: build failed\n", 101, nil
	}

	out, err := ExecutePhase(sess, phaseCommands, types.PhasePre)
	assert.Equal(t, "error: build failed\n", out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrExitStatus))

	var exitErr *types.ExitStatusError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 101, exitErr.Status)
}

func TestExecutePhaseExecFailure(t *testing.T) {
	sess := sessiontest.New()
	refused := errors.New("channel open refused")
	sess.ExecFunc = func(script string) (string, int, error) {
		return "", 0, refused
	}

	_, err := ExecutePhase(sess, phaseCommands, types.PhasePre)
	assert.True(t, errors.Is(err, types.ErrTransport), "got %v", err)
	assert.True(t, errors.Is(err, refused), "cause lost: %v", err)
	assert.Equal(t, types.KindTransport, types.KindOf(err))
}

type fixture struct {
	exec     *Executor
	sess     *sessiontest.Session
	settings *config.Settings
	localFs  afero.Fs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	localFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(localFs, "/work/app/main.c", []byte("int main() {}"), 0644))
	require.NoError(t, afero.WriteFile(localFs, "/work/app/Makefile", []byte("all:\n"), 0644))

	sess := sessiontest.New()
	sess.ExecFunc = func(script string) (string, int, error) {
		if strings.Contains(script, "make") {
			if err := sess.WriteFile("~/remote/app/out/app", "ELF"); err != nil {
				return "", 0, err
			}
			return "\x1b[32mbuilt\x1b[0m\n", 0, nil
		}
		return "post\n", 0, nil
	}

	settings := &config.Settings{
		SSH: config.SSH{Host: "build", Port: 22, Username: "u", Password: "p"},
		Compilation: config.Compilation{
			LocalProjectRoot:  "/work/app",
			RemoteProjectRoot: "~/remote/app",
			OutputDirectory:   "out",
		},
		Commands: []types.Command{
			{Command: "cd ~/remote/app"},
			{Command: "make"},
			{Command: "./out/app --version", ExecuteAfterCompilation: true},
		},
	}

	ex := &Executor{
		Fs: localFs,
		NewSession: func(opts sshclient.Options) (Session, error) {
			if opts.Host != "build" || opts.Port != 22 {
				t.Fatalf("unexpected options: %+v", opts)
			}
			return sess, nil
		},
	}
	return &fixture{exec: ex, sess: sess, settings: settings, localFs: localFs}
}

func TestRunFullPipeline(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.exec.Run(context.Background(), f.settings))

	assert.Equal(t, []string{"connect", "push", "exec", "pull", "exec", "disconnect"}, f.sess.Calls)
	assert.Equal(t, []string{"cd ~/remote/app\nmake\n", "./out/app --version\n"}, f.sess.Scripts)

	got, err := f.sess.ReadFile("~/remote/app/main.c")
	require.NoError(t, err)
	assert.Equal(t, "int main() {}", got)

	artifact, err := afero.ReadFile(f.localFs, "/work/app/out/app")
	require.NoError(t, err)
	assert.Equal(t, "ELF", string(artifact))
}

func TestRunStopsAtFailingPhase(t *testing.T) {
	f := newFixture(t)
	f.sess.PushErr = func(path string, n int) error { return errors.New("scp: permission denied") }

	err := f.exec.Run(context.Background(), f.settings)
	require.Error(t, err)

	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "push", pe.Phase)
	assert.True(t, errors.Is(err, types.ErrTransport))
	assert.True(t, strings.HasPrefix(err.Error(), "push: "))

	assert.Empty(t, f.sess.Scripts)
	assert.True(t, f.sess.Disconnected)
}

func TestRunDisconnectFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.sess.DisconnectErr = errors.New("connection reset")

	assert.NoError(t, f.exec.Run(context.Background(), f.settings))
	assert.True(t, f.sess.Disconnected)
}

func TestRunConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.sess.ConnectErr = errors.New("auth failed")

	err := f.exec.Run(context.Background(), f.settings)
	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "connect", pe.Phase)
	assert.False(t, f.sess.Disconnected)
	assert.Equal(t, []string{"connect"}, f.sess.Calls)
}

func TestRunNonzeroExitAborts(t *testing.T) {
	f := newFixture(t)
	f.sess.ExecFunc = func(script string) (string, int, error) {
		return "compile error\n", 2, nil
	}

	err := f.exec.Run(context.Background(), f.settings)
	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "pre-build", pe.Phase)
	assert.True(t, errors.Is(err, types.ErrExitStatus))
	assert.Len(t, f.sess.Scripts, 1)
	assert.NotContains(t, f.sess.Calls, "pull")
}

func TestRunIgnoreExitStatus(t *testing.T) {
	f := newFixture(t)
	inner := f.sess.ExecFunc
	f.sess.ExecFunc = func(script string) (string, int, error) {
		out, _, err := inner(script)
		return out, 1, err
	}
	f.settings.Compilation.IgnoreExitStatus = true

	require.NoError(t, f.exec.Run(context.Background(), f.settings))
	assert.Len(t, f.sess.Scripts, 2)
}

func TestRunHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	called := false
	f.exec.NewSession = func(opts sshclient.Options) (Session, error) {
		called = true
		return f.sess, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.exec.Run(ctx, f.settings)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, called)
}

func TestRunWritesLogFile(t *testing.T) {
	f := newFixture(t)
	f.settings.Compilation.LogFile = "/logs/build.log"

	require.NoError(t, f.exec.Run(context.Background(), f.settings))

	data, err := afero.ReadFile(f.localFs, "/logs/build.log")
	require.NoError(t, err)
	log := string(data)
	assert.Contains(t, log, "=== push start ===")
	assert.Contains(t, log, "] built\n")
	assert.Contains(t, log, "] post\n")
	assert.NotContains(t, log, "\x1b[")
}

func TestSinglePhaseEntryPoints(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.exec.Push(context.Background(), f.settings))
	assert.Equal(t, []string{"connect", "push", "disconnect"}, f.sess.Calls)
	assert.Empty(t, f.sess.Scripts)

	require.NoError(t, f.exec.ExecutePhase(context.Background(), f.settings, types.PhasePost))
	assert.Equal(t, []string{"./out/app --version\n"}, f.sess.Scripts)
}
