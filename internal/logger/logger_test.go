package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warning", "error"} {
		t.Run(level, func(t *testing.T) {
			l, err := NewWithOutput(level, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Equal(t, level, l.GetLevel())
		})
	}

	_, err := New("loud")
	assert.Error(t, err)
}

func TestModuleField(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithOutput("info", &buf)
	require.NoError(t, err)

	l.Module("dmx").With(Fields{"port": 2}).Info("frame sent")
	l.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "module=dmx")
	assert.Contains(t, out, "port=2")
	assert.Contains(t, out, "frame sent")
	assert.NotContains(t, out, "hidden")
}
