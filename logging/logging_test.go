package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrixd.log")
	l, err := New("info", path)
	require.NoError(t, err)

	l.Info("registered user 2")
	l.Error("transfer failed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "registered user 2")
	assert.Contains(t, string(data), "transfer failed")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("chatty", "")
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	var m Memory
	m.Info("a")
	m.Warn("b")
	m.Error("c")
	assert.Equal(t, []string{"INFO a", "WARN b", "ERROR c"}, m.Lines)
	assert.True(t, m.Contains("WARN b"))
	assert.False(t, m.Contains("zzz"))

	Nop.Info("ignored")
}
