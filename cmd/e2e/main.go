package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"remotebuild/internal/pipeline/executor"
	"remotebuild/internal/pipeline/transfer"
	"remotebuild/internal/pipeline/types"
	"remotebuild/internal/sshclient"
)

// localShellQuote safely single-quote a path for remote POSIX commands,
// leaving a leading ~/ for the remote shell to expand.
func localShellQuote(s string) string {
	if strings.HasPrefix(s, "~/") {
		return "~/" + localShellQuote(s[2:])
	}
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(format string, a ...interface{}) {
	fmt.Printf("❌ "+format+"\n", a...)
	os.Exit(1)
}

// seedTree writes a small project with nested, empty and zero-byte entries.
func seedTree(root string) error {
	files := map[string]string{
		"main.c":            "int main(void) { return 0; }\n",
		"Makefile":          "all:\n\tcc -o out/app main.c\n",
		"src/lib/util.c":    "void util(void) {}\n",
		"src/lib/empty.txt": "",
		"name with space":   "spaces survive\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			return err
		}
	}
	return os.MkdirAll(filepath.Join(root, "empty-dir"), 0755)
}

// compareTrees reports the first difference between two local trees.
func compareTrees(a, b string) error {
	return filepath.Walk(a, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(a, p)
		if err != nil {
			return err
		}
		other, err := os.Stat(filepath.Join(b, rel))
		if err != nil {
			return fmt.Errorf("%s missing from copy: %v", rel, err)
		}
		if info.IsDir() != other.IsDir() {
			return fmt.Errorf("%s changed type", rel)
		}
		if info.IsDir() {
			return nil
		}
		want, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		got, err := os.ReadFile(filepath.Join(b, rel))
		if err != nil {
			return err
		}
		if !bytes.Equal(want, got) {
			return fmt.Errorf("%s content differs", rel)
		}
		return nil
	})
}

func main() {
	fmt.Println("E2E round trip: starting")
	_ = godotenv.Load()

	port, err := strconv.Atoi(getenv("E2E_SSH_PORT", "22"))
	if err != nil {
		fail("invalid E2E_SSH_PORT: %v", err)
	}
	user := os.Getenv("SSH_USERNAME")
	if user == "" {
		fail("SSH_USERNAME must be set (SSH_PASSWORD or SSH_PRIVATE_KEY for auth)")
	}

	client, err := sshclient.NewSSHClient(sshclient.Options{
		Host:       getenv("E2E_SSH_HOST", "localhost"),
		Port:       port,
		Username:   user,
		Password:   os.Getenv("SSH_PASSWORD"),
		PrivateKey: os.Getenv("SSH_PRIVATE_KEY"),
		Timeout:    15 * time.Second,
	})
	if err != nil {
		fail("NewSSHClient failed: %v", err)
	}
	if err := client.Connect(); err != nil {
		fail("ssh connect failed: %v", err)
	}
	defer client.Disconnect("finished", "e2e round trip")

	remoteWorkdir := getenv("E2E_REMOTE_WORKDIR", fmt.Sprintf("~/remotebuild-e2e-%d", time.Now().Unix()))

	src, err := os.MkdirTemp("", "e2e-src-*")
	if err != nil {
		fail("create temp failed: %v", err)
	}
	defer os.RemoveAll(src)
	dst, err := os.MkdirTemp("", "e2e-dst-*")
	if err != nil {
		fail("create temp failed: %v", err)
	}
	defer os.RemoveAll(dst)

	if err := seedTree(src); err != nil {
		fail("seed failed: %v", err)
	}

	sy := transfer.New(client, nil)
	if err := sy.PushDirectory(src, remoteWorkdir); err != nil {
		fail("push failed: %v", err)
	}
	fmt.Printf("✅ push OK (%+v)\n", sy.Stats())

	// materialization is idempotent on an existing tree
	if err := sy.EnsureDirectory(remoteWorkdir + "/src/lib"); err != nil {
		fail("ensure directory failed: %v", err)
	}

	out, err := executor.ExecutePhase(client, []types.Command{
		{Command: "cd " + localShellQuote(remoteWorkdir)},
		{Command: "ls -la"},
		{Command: "echo to-stderr 1>&2"},
	}, types.PhasePre)
	if err != nil {
		fail("execute failed: %v\nOutput:%s", err, out)
	}
	fmt.Println("remote listing:")
	fmt.Print(out)
	if !strings.Contains(out, "to-stderr") {
		fail("stderr was not captured")
	}

	_, err = executor.ExecutePhase(client, []types.Command{{Command: "exit 3"}}, types.PhasePre)
	if !errors.Is(err, types.ErrExitStatus) {
		fail("expected exit status error, got %v", err)
	}
	fmt.Println("✅ exit status reported")

	sy.ResetStats()
	if err := sy.PullDirectory(dst, remoteWorkdir); err != nil {
		fail("pull failed: %v", err)
	}
	fmt.Printf("✅ pull OK (%+v)\n", sy.Stats())

	if err := compareTrees(src, dst); err != nil {
		fail("round trip mismatch: %v", err)
	}
	fmt.Println("✅ round trip identical")

	if _, err := executor.ExecutePhase(client, []types.Command{{Command: "rm -rf " + localShellQuote(remoteWorkdir)}}, types.PhasePre); err != nil {
		fmt.Printf("⚠️  cleanup failed: %v\n", err)
	}
	fmt.Println("E2E round trip: done")
}
