package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrTimeFormat    = errors.New("time must be HH:MM")
	ErrTimeRange     = errors.New("hours must be 00-23 and minutes 00-59")
	ErrUnknownPreset = errors.New("unknown preset")
)

// Strict zero-padded 24h clock, e.g. "09:30". "9:30" is rejected.
var clockRe = regexp.MustCompile(`^\d{2}:\d{2}$`)

// ParseClock parses a strict "HH:MM" wall-clock string.
func ParseClock(s string) (hour, minute int, err error) {
	if !clockRe.MatchString(s) {
		return 0, 0, ErrTimeFormat
	}
	hour, _ = strconv.Atoi(s[:2])
	minute, _ = strconv.Atoi(s[3:])
	if hour > 23 || minute > 59 {
		return 0, 0, ErrTimeRange
	}
	return hour, minute, nil
}

// Preset names a day-of-week set for recurring triggers.
type Preset string

const (
	PresetEveryday Preset = "everyday"
	PresetWeekdays Preset = "weekdays"
	PresetWeekend  Preset = "weekend"
	PresetMon      Preset = "mon"
	PresetTue      Preset = "tue"
	PresetWed      Preset = "wed"
	PresetThu      Preset = "thu"
	PresetFri      Preset = "fri"
	PresetSat      Preset = "sat"
	PresetSun      Preset = "sun"
)

// dowExprs maps presets to the day-of-week field of a cron spec.
var dowExprs = map[Preset]string{
	PresetEveryday: "*",
	PresetWeekdays: "MON-FRI",
	PresetWeekend:  "SAT,SUN",
	PresetMon:      "MON",
	PresetTue:      "TUE",
	PresetWed:      "WED",
	PresetThu:      "THU",
	PresetFri:      "FRI",
	PresetSat:      "SAT",
	PresetSun:      "SUN",
}

// Presets lists all preset names in display order.
func Presets() []Preset {
	return []Preset{
		PresetEveryday, PresetWeekdays, PresetWeekend,
		PresetMon, PresetTue, PresetWed, PresetThu, PresetFri, PresetSat, PresetSun,
	}
}

// ParsePreset validates a preset name (case-insensitive).
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := dowExprs[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
	}
	return p, nil
}

// CronSpec renders the trigger as a standard 5-field cron spec.
func CronSpec(hour, minute int, p Preset) string {
	dow, ok := dowExprs[p]
	if !ok {
		dow = "*"
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, dow)
}
