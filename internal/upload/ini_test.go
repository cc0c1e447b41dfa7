package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"
)

func TestProgramINIContents(t *testing.T) {
	data, err := programINI("clawbot-auton", "autonomous routine", 3, IconClawbot)
	require.NoError(t, err)

	cfg, err := ini.Load(data)
	require.NoError(t, err)

	program := cfg.Section("program")
	assert.Equal(t, "clawbot-auton", program.Key("name").String())
	assert.Equal(t, "3", program.Key("slot").String())
	assert.Equal(t, "USER010x.bmp", program.Key("icon").String())
	assert.Equal(t, "autonomous routine", program.Key("description").String())
	assert.Equal(t, "v5deploy", cfg.Section("project").Key("ide").String())
}

func TestProgramINIStableWithinADay(t *testing.T) {
	a, err := programINI("p", "", 1, IconQuestionMark)
	require.NoError(t, err)
	b, err := programINI("p", "", 1, IconQuestionMark)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseIcon(t *testing.T) {
	icon, err := ParseIcon("python")
	require.NoError(t, err)
	assert.Equal(t, IconPython, icon)

	_, err = ParseIcon("dragon")
	assert.ErrorContains(t, err, "not a valid icon")
}
