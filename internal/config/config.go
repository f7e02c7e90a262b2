package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"remotebuild/internal/logging"
	"remotebuild/internal/pipeline/types"
	"remotebuild/internal/util"
)

var printer = util.Default

const ConfigFileName = "remotebuild.yaml"

// DefaultSettings is the built-in profile every user file is layered over.
const DefaultSettings = `ssh:
  host: localhost
  port: 22
  username: root
  password: root
  timeout: 30

compilation:
  # Path to the project on your local machine.
  local_project_root: /path/to/project
  # Path to the project on the remote machine.
  remote_project_root: ~/remote/project
  # Directory holding the build output, relative to both project roots.
  output_directory: target/release

commands:
  - command: cd ~/remote/project
    description: Change directory to the project root.
    execute_after_compilation: false
  - command: cargo build --release
    description: Build the project.
    execute_after_compilation: false
`

type Settings struct {
	SSH         SSH             `yaml:"ssh"`
	Compilation Compilation     `yaml:"compilation"`
	Commands    []types.Command `yaml:"commands"`
}

type SSH struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password,omitempty"`
	PrivateKey string `yaml:"private_key,omitempty"`
	KnownHosts string `yaml:"known_hosts,omitempty"` // empty disables host key verification
	JumpHost   string `yaml:"jump_host,omitempty"`   // [user@]host[:port]
	Timeout    int    `yaml:"timeout,omitempty"`     // dial timeout in seconds
}

type Compilation struct {
	LocalProjectRoot  string   `yaml:"local_project_root"`
	RemoteProjectRoot string   `yaml:"remote_project_root"`
	OutputDirectory   string   `yaml:"output_directory"`
	Ignore            []string `yaml:"ignore,omitempty"`             // gitignore-style patterns skipped on push
	LogFile           string   `yaml:"log_file,omitempty"`           // append remote command output here
	IgnoreExitStatus  bool     `yaml:"ignore_exit_status,omitempty"` // keep going when a phase script exits nonzero
}

// RemoteOutputDirectory is where build artifacts are pulled from.
func (c Compilation) RemoteOutputDirectory() string {
	return c.RemoteProjectRoot + "/" + c.OutputDirectory
}

// LocalOutputDirectory is where build artifacts are pulled to.
func (c Compilation) LocalOutputDirectory() string {
	return c.LocalProjectRoot + "/" + c.OutputDirectory
}

// Address returns host:port for dialing.
func (s SSH) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default returns the built-in profile.
func Default() (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal([]byte(DefaultSettings), &s); err != nil {
		return nil, fmt.Errorf("error parsing default settings: %v", err)
	}
	return &s, nil
}

// Load layers the user file at path over the default profile. A missing
// file falls back to the defaults; an unreadable or malformed one is an error.
func Load(path string) (*Settings, error) {
	s, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = ConfigFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Warn("config file not found, using default settings", map[string]interface{}{"path": path})
			printer.Printf("⚠️  %s not found, using default settings\n", path)
			return s, nil
		}
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	// Decoding over the defaults keeps unset scalars and replaces lists; an
	// empty file decodes to io.EOF.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing config file %s: %v", path, err)
	}

	// Command text is remote shell input and is never interpolated.
	envMap, _ := loadDotEnvIfExists(filepath.Dir(path))
	s.interpolate(envMap)
	s.Compilation.resolveLocalPaths(filepath.Dir(path))
	s.SSH.resolveLocalPaths(filepath.Dir(path))

	logging.Debug("config loaded", map[string]interface{}{"path": path, "commands": len(s.Commands)})
	return s, nil
}

// LoadAndValidate loads settings and validates them.
func LoadAndValidate(path string) (*Settings, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate validates the settings for required fields.
func (s *Settings) Validate() error {
	var validationErrors []string

	if strings.TrimSpace(s.SSH.Host) == "" {
		validationErrors = append(validationErrors, "ssh.host cannot be empty")
	}
	if s.SSH.Port <= 0 || s.SSH.Port > 65535 {
		validationErrors = append(validationErrors, fmt.Sprintf("ssh.port must be a valid number between 1-65535, got %d", s.SSH.Port))
	}
	if strings.TrimSpace(s.SSH.Username) == "" {
		validationErrors = append(validationErrors, "ssh.username cannot be empty")
	}
	if s.SSH.Timeout < 0 {
		validationErrors = append(validationErrors, "ssh.timeout cannot be negative")
	}
	if s.SSH.PrivateKey != "" {
		if _, err := os.Stat(expandHome(s.SSH.PrivateKey)); os.IsNotExist(err) {
			validationErrors = append(validationErrors, fmt.Sprintf("ssh.private_key does not exist: %s", s.SSH.PrivateKey))
		}
	}

	if strings.TrimSpace(s.Compilation.LocalProjectRoot) == "" {
		validationErrors = append(validationErrors, "compilation.local_project_root cannot be empty")
	}
	if strings.TrimSpace(s.Compilation.RemoteProjectRoot) == "" {
		validationErrors = append(validationErrors, "compilation.remote_project_root cannot be empty")
	}
	if strings.TrimSpace(s.Compilation.OutputDirectory) == "" {
		validationErrors = append(validationErrors, "compilation.output_directory cannot be empty")
	}

	for i, c := range s.Commands {
		if strings.TrimSpace(c.Command) == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("command %d: command cannot be empty", i+1))
		}
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(validationErrors, "\n"))
	}
	return nil
}

// WriteDefault writes the default profile to path, refusing to overwrite.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(DefaultSettings), 0644); err != nil {
		return fmt.Errorf("error writing %s: %v", path, err)
	}
	return nil
}

// ExpandHome expands a leading ~ in a local path.
func ExpandHome(p string) string { return expandHome(p) }

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(homeDir, p[1:])
}

// loadDotEnvIfExists attempts to load a .env file from the directory of config
// and returns a map of key->value. If no .env exists or parsing fails, an empty map is returned.
func loadDotEnvIfExists(dir string) (map[string]string, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return map[string]string{}, nil
	}

	m, err := godotenv.Read(envPath)
	if err != nil {
		printer.Printf("⚠️  Failed to parse .env at %s: %v\n", envPath, err)
		return map[string]string{}, err
	}
	return m, nil
}

var envRefRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnv replaces ${NAME} references. Precedence: OS env > envMap.
// Missing variables are replaced with empty string and a warning is emitted.
// Bare $NAME, $? and $$ are left alone.
func interpolateEnv(input string, envMap map[string]string) string {
	return envRefRegex.ReplaceAllStringFunc(input, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if v, ok := envMap[name]; ok {
			return v
		}
		logging.Warn("environment variable not set", map[string]interface{}{"name": name})
		return ""
	})
}

// interpolate expands ${NAME} in the connection and path settings.
func (s *Settings) interpolate(envMap map[string]string) {
	for _, f := range []*string{
		&s.SSH.Host,
		&s.SSH.Username,
		&s.SSH.Password,
		&s.SSH.PrivateKey,
		&s.SSH.KnownHosts,
		&s.SSH.JumpHost,
		&s.Compilation.LocalProjectRoot,
		&s.Compilation.RemoteProjectRoot,
		&s.Compilation.OutputDirectory,
		&s.Compilation.LogFile,
	} {
		*f = interpolateEnv(*f, envMap)
	}
	for i := range s.Compilation.Ignore {
		s.Compilation.Ignore[i] = interpolateEnv(s.Compilation.Ignore[i], envMap)
	}
}

// resolveLocal anchors a relative local path at dir. Empty and ~ paths are
// returned as is.
func resolveLocal(dir, p string) string {
	if p == "" || p == "~" || strings.HasPrefix(p, "~/") || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// resolveLocalPaths makes the local project root and log file relative to
// the config file's directory rather than the working directory.
func (c *Compilation) resolveLocalPaths(dir string) {
	c.LocalProjectRoot = resolveLocal(dir, c.LocalProjectRoot)
	c.LogFile = resolveLocal(dir, c.LogFile)
}

func (s *SSH) resolveLocalPaths(dir string) {
	s.PrivateKey = resolveLocal(dir, s.PrivateKey)
	s.KnownHosts = resolveLocal(dir, s.KnownHosts)
}
