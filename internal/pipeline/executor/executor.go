package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"remotebuild/internal/config"
	"remotebuild/internal/logging"
	"remotebuild/internal/pipeline/transfer"
	"remotebuild/internal/pipeline/types"
	"remotebuild/internal/sshclient"
	"remotebuild/internal/util"
)

var printer = util.Default

// Session is a remote session with an explicit lifecycle.
type Session interface {
	types.RemoteSession
	Connect() error
	Disconnect(reason, description string) error
}

// PhaseError labels a failure with the pipeline phase it happened in.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string { return fmt.Sprintf("%s: %v", e.Phase, e.Err) }

func (e *PhaseError) Unwrap() error { return e.Err }

// Executor runs the build pipeline against one remote session.
type Executor struct {
	// NewSession creates the session for a run; tests swap it for a fake.
	NewSession func(opts sshclient.Options) (Session, error)
	// Fs is the local filesystem for project trees and the output log.
	Fs afero.Fs

	logFile afero.File
}

// NewExecutor creates an executor that connects over SSH.
func NewExecutor() *Executor {
	return &Executor{
		NewSession: func(opts sshclient.Options) (Session, error) {
			c, err := sshclient.NewSSHClient(opts)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Fs: afero.NewOsFs(),
	}
}

type step struct {
	name   string
	detail string
	run    func(Session) error
}

// Run connects, pushes the project, runs the pre-build commands, pulls the
// output directory, runs the post-build commands and disconnects. The first
// failing phase aborts the run. Cancellation is honored between phases.
func (e *Executor) Run(ctx context.Context, s *config.Settings) error {
	local := config.ExpandHome(s.Compilation.LocalProjectRoot)
	localOut := config.ExpandHome(s.Compilation.LocalOutputDirectory())

	return e.withSession(ctx, s, []step{
		{"push", fmt.Sprintf("%s -> %s", local, s.Compilation.RemoteProjectRoot), func(sess Session) error {
			return e.push(sess, s, local)
		}},
		{types.PhasePre.String(), "", func(sess Session) error {
			return e.execute(sess, s, types.PhasePre)
		}},
		{"pull", fmt.Sprintf("%s -> %s", s.Compilation.RemoteOutputDirectory(), localOut), func(sess Session) error {
			return e.pull(sess, s, localOut)
		}},
		{types.PhasePost.String(), "", func(sess Session) error {
			return e.execute(sess, s, types.PhasePost)
		}},
	})
}

// Push only mirrors the project tree to the remote host.
func (e *Executor) Push(ctx context.Context, s *config.Settings) error {
	local := config.ExpandHome(s.Compilation.LocalProjectRoot)
	return e.withSession(ctx, s, []step{
		{"push", fmt.Sprintf("%s -> %s", local, s.Compilation.RemoteProjectRoot), func(sess Session) error {
			return e.push(sess, s, local)
		}},
	})
}

// Pull only mirrors the remote output directory back.
func (e *Executor) Pull(ctx context.Context, s *config.Settings) error {
	localOut := config.ExpandHome(s.Compilation.LocalOutputDirectory())
	return e.withSession(ctx, s, []step{
		{"pull", fmt.Sprintf("%s -> %s", s.Compilation.RemoteOutputDirectory(), localOut), func(sess Session) error {
			return e.pull(sess, s, localOut)
		}},
	})
}

// ExecutePhase only runs the commands of one phase.
func (e *Executor) ExecutePhase(ctx context.Context, s *config.Settings, phase types.Phase) error {
	return e.withSession(ctx, s, []step{
		{phase.String(), "", func(sess Session) error {
			return e.execute(sess, s, phase)
		}},
	})
}

func (e *Executor) withSession(ctx context.Context, s *config.Settings, steps []step) (err error) {
	if err := ctx.Err(); err != nil {
		return &PhaseError{Phase: "connect", Err: err}
	}

	if err := e.openLog(s.Compilation.LogFile); err != nil {
		return &PhaseError{Phase: "connect", Err: err}
	}
	defer e.closeLog()

	printer.Phase("connect", s.SSH.Address())
	sess, err := e.NewSession(sshclient.OptionsFromConfig(s.SSH))
	if err == nil {
		err = sess.Connect()
	}
	if err != nil {
		printer.Failure("connect", err)
		return &PhaseError{Phase: "connect", Err: err}
	}
	logging.Info("connected", map[string]interface{}{"host": s.SSH.Address(), "user": s.SSH.Username})

	defer func() {
		reason, description := "finished", "build pipeline completed"
		if err != nil {
			reason, description = "aborted", err.Error()
		}
		if derr := sess.Disconnect(reason, description); derr != nil {
			logging.Warn("disconnect failed", map[string]interface{}{"error": derr.Error()})
			printer.Printf("⚠️  disconnect failed: %v\n", derr)
		}
	}()

	for _, st := range steps {
		if cerr := ctx.Err(); cerr != nil {
			return &PhaseError{Phase: st.name, Err: cerr}
		}
		printer.Phase(st.name, st.detail)
		e.writeLog(fmt.Sprintf("=== %s start ===", st.name))
		if serr := st.run(sess); serr != nil {
			logging.Error("phase failed", map[string]interface{}{"phase": st.name, "kind": types.KindOf(serr).String(), "error": serr.Error()})
			printer.Failure(st.name, serr)
			e.writeLog(fmt.Sprintf("=== %s failed: %v ===", st.name, serr))
			return &PhaseError{Phase: st.name, Err: serr}
		}
	}
	return nil
}

func (e *Executor) syncer(sess Session) *transfer.Syncer {
	return transfer.New(sess, e.Fs)
}

func (e *Executor) push(sess Session, s *config.Settings, local string) error {
	sy := e.syncer(sess)
	sy.SetIgnore(s.Compilation.Ignore)
	start := time.Now()
	if err := sy.PushDirectory(local, s.Compilation.RemoteProjectRoot); err != nil {
		return err
	}
	st := sy.Stats()
	printer.Success("pushed %d files (%s) in %s", st.Files, util.Bytes(st.Bytes), time.Since(start).Round(time.Millisecond))
	if st.Skipped > 0 {
		printer.Printf("   %d ignored entries skipped\n", st.Skipped)
	}
	return nil
}

func (e *Executor) pull(sess Session, s *config.Settings, localOut string) error {
	sy := e.syncer(sess)
	start := time.Now()
	if err := sy.PullDirectory(localOut, s.Compilation.RemoteOutputDirectory()); err != nil {
		return err
	}
	st := sy.Stats()
	printer.Success("pulled %d files (%s) in %s", st.Files, util.Bytes(st.Bytes), time.Since(start).Round(time.Millisecond))
	return nil
}

func (e *Executor) execute(sess Session, s *config.Settings, phase types.Phase) error {
	n := len(FilterPhase(s.Commands, phase))
	logging.Debug("executing phase", map[string]interface{}{"phase": phase.String(), "commands": n})

	out, err := ExecutePhase(sess, s.Commands, phase)
	if out != "" {
		printer.PrintBlock(strings.TrimRight(out, "\n"))
		for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
			e.writeLog(line)
		}
	}
	if err != nil {
		if errors.Is(err, types.ErrExitStatus) && s.Compilation.IgnoreExitStatus {
			logging.Warn("ignoring nonzero exit status", map[string]interface{}{"phase": phase.String(), "error": err.Error()})
			printer.Printf("⚠️  %s: %v (ignored)\n", phase, err)
			return nil
		}
		return err
	}
	printer.Success("%s: %d commands done", phase, n)
	return nil
}

func (e *Executor) openLog(path string) error {
	if path == "" {
		return nil
	}
	path = config.ExpandHome(path)
	if err := e.Fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}
	f, err := e.Fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}
	e.logFile = f
	return nil
}

func (e *Executor) closeLog() {
	if e.logFile != nil {
		e.logFile.Close()
		e.logFile = nil
	}
}

// writeLog appends a timestamped line to the log file with ANSI codes removed.
func (e *Executor) writeLog(message string) {
	if e.logFile == nil {
		return
	}
	timestamp := time.Now().Format("[2006-01-02 15:04:05]")
	e.logFile.WriteString(fmt.Sprintf("%s %s\n", timestamp, util.StripANSI(message)))
}
