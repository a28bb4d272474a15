package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("warn", &buf)

	log.Info().Msg("should be filtered")
	log.Warn().Msg("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should appear")
}

func TestNewWithWriter_DefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("bogus", &buf)

	log.Debug().Msg("debug line")
	log.Info().Msg("info line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.Contains(t, out, "info line")
}

func TestSampled_EmitsOneInN(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)
	sampled := Sampled(log, 10)

	for i := 0; i < 100; i++ {
		sampled.Warn().Msg("rejection")
	}

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 10, lines)
}

func TestSampled_NoSamplingForOne(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)
	sampled := Sampled(log, 1)

	for i := 0; i < 5; i++ {
		sampled.Warn().Msg("rejection")
	}

	assert.Equal(t, 5, strings.Count(buf.String(), "\n"))
}
