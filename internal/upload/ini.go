package upload

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Icon is the numeric id of the program icon shown by the Brain's
// launcher. The ini records it as a bitmap file name.
type Icon uint16

const (
	IconQuestionMark Icon = 2
	IconClawbot      Icon = 10
	IconRobot        Icon = 11
	IconPowerButton  Icon = 12
	IconPlanets      Icon = 13
	IconAlien        Icon = 27
	IconUFO          Icon = 29
	IconCodeFile     Icon = 920
	IconBlocks       Icon = 922
	IconPython       Icon = 925
	IconCpp          Icon = 926
)

// Icons maps the CLI/config spelling of each icon to its id.
var Icons = map[string]Icon{
	"question-mark": IconQuestionMark,
	"clawbot":       IconClawbot,
	"robot":         IconRobot,
	"power-button":  IconPowerButton,
	"planets":       IconPlanets,
	"alien":         IconAlien,
	"ufo":           IconUFO,
	"code-file":     IconCodeFile,
	"blocks":        IconBlocks,
	"python":        IconPython,
	"cpp":           IconCpp,
}

// ParseIcon resolves an icon name from the CLI or config table.
func ParseIcon(name string) (Icon, error) {
	if icon, ok := Icons[name]; ok {
		return icon, nil
	}
	return 0, fmt.Errorf("%q is not a valid icon", name)
}

// programINI renders the launcher metadata file for a program. The date
// is day-granular on purpose: the orchestrator skips re-uploading the
// ini when its CRC matches the device's copy, and a finer timestamp
// would defeat that.
func programINI(name, description string, slot int, icon Icon) ([]byte, error) {
	cfg := ini.Empty()

	project, err := cfg.NewSection("project")
	if err != nil {
		return nil, err
	}
	project.Key("ide").SetValue("v5deploy")

	program, err := cfg.NewSection("program")
	if err != nil {
		return nil, err
	}
	program.Key("version").SetValue("1.0.0")
	program.Key("name").SetValue(name)
	program.Key("slot").SetValue(fmt.Sprintf("%d", slot))
	program.Key("icon").SetValue(fmt.Sprintf("USER%03dx.bmp", icon))
	program.Key("description").SetValue(description)
	program.Key("date").SetValue(time.Now().Format("2006-01-02"))

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
