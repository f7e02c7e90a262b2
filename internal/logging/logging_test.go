package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONLinesUseShortKeys(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelDebug, map[string]interface{}{"run": "abc"})

	WithFields(map[string]interface{}{"phase": "push"}).Info("pushing", map[string]interface{}{"files": 3})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "pushing", entry["msg"])
	require.Equal(t, "info", entry["lvl"])
	require.Equal(t, "abc", entry["run"])
	require.Equal(t, "push", entry["phase"])
	require.EqualValues(t, 3, entry["files"])
	require.NotEmpty(t, entry["ts"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelWarn, nil)

	Debug("hidden", nil)
	Info("hidden", nil)
	Warn("shown", nil)
	require.Equal(t, 1, strings.Count(buf.String(), "\n"))

	SetLevel(LevelDebug)
	Debug("now shown", nil)
	require.Equal(t, 2, strings.Count(buf.String(), "\n"))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}
