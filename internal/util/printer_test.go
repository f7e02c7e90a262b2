package util

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func TestPrinterBlockEndsWithNewline(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Printf("a=%d\n", 1)
	p.PrintBlock("")
	p.PrintBlock("tail")
	p.PrintBlock("done\n")

	require.Equal(t, "a=1\ntail\ndone\n", buf.String())
}

func TestFailureIsPhaseLabeled(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Failure("push", errors.New("boom"))
	require.Equal(t, "❌ push failed: boom\n", buf.String())
}

func TestStripANSI(t *testing.T) {
	require.Equal(t, "ok done", StripANSI("\x1b[32mok\x1b[0m \x1b[1;31mdone\x1b[0m"))
}

func TestBytes(t *testing.T) {
	require.Equal(t, "0 B", Bytes(0))
	require.Equal(t, "1.0 KiB", Bytes(1024))
	require.Equal(t, "0 B", Bytes(-5))
}
