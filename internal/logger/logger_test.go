package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, levelDebug, parseLevel("debug"))
	assert.Equal(t, levelDebug, parseLevel("TRACE"))
	assert.Equal(t, levelWarn, parseLevel(" warning "))
	assert.Equal(t, levelError, parseLevel("error"))
	assert.Equal(t, levelInfo, parseLevel(""))
	assert.Equal(t, levelInfo, parseLevel("verbose"))
}

func TestSetLevelGatesOutput(t *testing.T) {
	SetLevel("error")
	assert.False(t, enabled(levelWarn))
	assert.True(t, enabled(levelError))

	SetLevel("debug")
	assert.True(t, enabled(levelDebug))
	SetLevel("info")
}

func TestTag(t *testing.T) {
	SetPrefix("")
	assert.Equal(t, "", tag())
	SetPrefix("client")
	assert.Equal(t, "[client] ", tag())
	SetPrefix("")
}
