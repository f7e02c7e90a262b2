package util

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// Printer writes operator-facing progress lines. It is separate from the
// structured log so that build output stays readable.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

var Default = NewPrinter(os.Stdout)

func NewPrinter(w io.Writer) *Printer {
	return &Printer{out: w}
}

// SetOutput redirects the printer.
func (p *Printer) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = w
}

func (p *Printer) write(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, msg)
}

func (p *Printer) Printf(format string, a ...interface{}) { p.write(fmt.Sprintf(format, a...)) }

func (p *Printer) Println(a ...interface{}) { p.write(fmt.Sprintln(a...)) }

// PrintBlock prints a multi-line block, making sure it ends with a newline.
func (p *Printer) PrintBlock(block string) {
	if block == "" {
		return
	}
	if !strings.HasSuffix(block, "\n") {
		block += "\n"
	}
	p.write(block)
}

// Phase prints a highlighted phase header, e.g. "==> push".
func (p *Printer) Phase(name, detail string) {
	label := color.New(color.FgHiCyan, color.Bold).Sprint("==> " + name)
	if detail != "" {
		p.Printf("%s %s\n", label, detail)
		return
	}
	p.Println(label)
}

// Failure prints a phase-labeled error.
func (p *Printer) Failure(phase string, err error) {
	label := color.New(color.FgHiRed, color.Bold).Sprintf("❌ %s failed:", phase)
	p.Printf("%s %v\n", label, err)
}

// Success prints a green confirmation line.
func (p *Printer) Success(format string, a ...interface{}) {
	p.Println(color.New(color.FgHiGreen).Sprintf("✅ "+format, a...))
}

// Bytes formats a byte count for progress output.
func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// StripANSI removes terminal escape sequences, for persisting output to files.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}
