package log

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetLevelAfterConfigure(t *testing.T) {
	Configure(Config{Level: "info"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	// Configure is first-call-wins; a second call must not change anything
	Configure(Config{Level: "debug"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	// level changes after startup go through SetLevel
	SetLevel("debug")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	// garbage is ignored, the level stays
	SetLevel("shouting")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
