package miphkb

import (
	"math"
	"slices"

	"github.com/brutella/hap/characteristic"
)

// device modes the bridge cares about; the device knows others (silent, strong...)
const (
	ModeIdle     = "idle"
	ModeAuto     = "auto"
	ModeFavorite = "favorite"
)

// HomeKit values for the purifier characteristics
const (
	AirQualityUnknown   = 0
	AirQualityExcellent = 1
	AirQualityGood      = 2
	AirQualityFair      = 3
	AirQualityInferior  = 4
	AirQualityPoor      = 5

	CurrentStateInactive     = 0
	CurrentStateIdle         = 1
	CurrentStatePurifyingAir = 2

	TargetStateManual = 0
	TargetStateAuto   = 1

	FilterOK     = 0
	ChangeFilter = 1

	LockDisabled = 0
	LockEnabled  = 1
)

const (
	// MaxFavoriteLevel is the top of the device's favorite level range
	MaxFavoriteLevel = 16
	levelStep        = 100.0 / MaxFavoriteLevel // 6.25

	// filter life (percent) below which HomeKit is told to change the filter
	filterChangeThreshold = 5
)

// Level maps every reading >= Threshold to Quality
type Level struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Quality   int     `json:"quality" yaml:"quality"`
}

// Levels is scanned from the highest threshold down
type Levels []Level

// KoreaPM25Levels are the Korean PM2.5 bands
var KoreaPM25Levels = Levels{
	{76, AirQualityPoor},
	{36, AirQualityInferior},
	{16, AirQualityFair},
	{6, AirQualityGood},
	{0, AirQualityExcellent},
}

// AQILevels is the coarser 50-point band table
var AQILevels = Levels{
	{200, AirQualityPoor},
	{150, AirQualityInferior},
	{100, AirQualityFair},
	{50, AirQualityGood},
	{0, AirQualityExcellent},
}

// Sorted returns a copy ordered by descending threshold
func (l Levels) Sorted() Levels {
	s := slices.Clone(l)
	slices.SortFunc(s, func(a, b Level) int {
		switch {
		case a.Threshold > b.Threshold:
			return -1
		case a.Threshold < b.Threshold:
			return 1
		}
		return 0
	})
	return s
}

// Quality returns the ordinal of the first level whose threshold is <= v
func (l Levels) Quality(v float64) int {
	for _, lv := range l {
		if v >= lv.Threshold {
			return lv.Quality
		}
	}
	return AirQualityUnknown
}

// SpeedForLevel converts a favorite level (0-16) to a rotation speed percentage
func SpeedForLevel(level int) float64 {
	return math.Ceil(float64(level) * levelStep)
}

// LevelForSpeed converts a rotation speed percentage to a favorite level
func LevelForSpeed(speed float64) int {
	level := int(math.Ceil(speed / levelStep))
	return max(0, min(MaxFavoriteLevel, level))
}

// ActiveFor derives Active from the two device fields it depends on
func ActiveFor(on bool, mode string) int {
	if on && mode != ModeIdle {
		return characteristic.ActiveActive
	}
	return characteristic.ActiveInactive
}

func CurrentStateFor(on bool, mode string) int {
	if on && mode != ModeIdle {
		return CurrentStatePurifyingAir
	}
	return CurrentStateInactive
}

func TargetStateFor(mode string) int {
	if mode == ModeFavorite {
		return TargetStateManual
	}
	return TargetStateAuto
}

func ModeForTarget(state int) string {
	if state == TargetStateAuto {
		return ModeAuto
	}
	return ModeFavorite
}

func FilterChangeFor(life float64) int {
	if life < filterChangeThreshold {
		return ChangeFilter
	}
	return FilterOK
}

func lockFor(raw string) int {
	if raw == "on" {
		return LockEnabled
	}
	return LockDisabled
}

func lockArg(state int) string {
	if state == LockEnabled {
		return "on"
	}
	return "off"
}
