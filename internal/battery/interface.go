package battery

import (
	"context"
	"time"
)

// Source supplies raw power readings from the host.
type Source interface {
	Read(ctx context.Context) (RawReading, error)
}

// Snapshot is one normalized point-in-time reading of the power source.
type Snapshot struct {
	CapturedAtMillis  int64
	LevelPercent      uint8
	ChargeState       ChargeState
	PlugSource        PlugSource
	HealthState       HealthState
	TemperatureDeciC  int32
	VoltageMillivolts int32
	Technology        string
}

// CapturedAt returns the capture time as a time.Time.
func (s Snapshot) CapturedAt() time.Time {
	return time.UnixMilli(s.CapturedAtMillis)
}

// TemperatureCelsius returns the temperature in degrees Celsius.
func (s Snapshot) TemperatureCelsius() float64 {
	return float64(s.TemperatureDeciC) / 10
}

// VoltageVolts returns the voltage in volts.
func (s Snapshot) VoltageVolts() float64 {
	return float64(s.VoltageMillivolts) / 1000
}

// Domain enums. The zero value of each is its Unknown/None member.
type (
	ChargeState uint8
	PlugSource  uint8
	HealthState uint8
)

const (
	ChargeUnknown ChargeState = iota
	ChargeCharging
	ChargeDischarging
	ChargeNotCharging
	ChargeFull
)

const (
	PlugNone PlugSource = iota
	PlugAC
	PlugUSB
	PlugWireless
	PlugOther
)

const (
	HealthUnknown HealthState = iota
	HealthGood
	HealthOverheat
	HealthDead
	HealthOverVoltage
	HealthFailure
	HealthCold
)

func (c ChargeState) String() string {
	switch c {
	case ChargeCharging:
		return "Charging"
	case ChargeDischarging:
		return "Discharging"
	case ChargeNotCharging:
		return "Not charging"
	case ChargeFull:
		return "Full"
	default:
		return "Unknown"
	}
}

func (p PlugSource) String() string {
	switch p {
	case PlugAC:
		return "AC"
	case PlugUSB:
		return "USB"
	case PlugWireless:
		return "Wireless"
	case PlugOther:
		return "Other"
	default:
		return "Unplugged"
	}
}

func (h HealthState) String() string {
	switch h {
	case HealthGood:
		return "Good"
	case HealthOverheat:
		return "Overheat"
	case HealthDead:
		return "Dead"
	case HealthOverVoltage:
		return "Over voltage"
	case HealthFailure:
		return "Failure"
	case HealthCold:
		return "Cold"
	default:
		return "Unknown"
	}
}

// Valid reports whether the value is a known member of its enum.
func (c ChargeState) Valid() bool { return c <= ChargeFull }

func (p PlugSource) Valid() bool { return p <= PlugOther }

func (h HealthState) Valid() bool { return h <= HealthCold }

// Field flags which parts of a RawReading the host actually supplied.
type Field uint16

const (
	FieldLevel Field = 1 << iota
	FieldScale
	FieldStatus
	FieldPlugged
	FieldHealth
	FieldTemperature
	FieldVoltage
	FieldTechnology
)

// Host status, plug and health codes (BatteryManager numbering).
const (
	StatusUnknown     = 1
	StatusCharging    = 2
	StatusDischarging = 3
	StatusNotCharging = 4
	StatusFull        = 5

	PluggedAC       = 1
	PluggedUSB      = 2
	PluggedWireless = 4
	PluggedDock     = 8

	HealthCodeUnknown     = 1
	HealthCodeGood        = 2
	HealthCodeOverheat    = 3
	HealthCodeDead        = 4
	HealthCodeOverVoltage = 5
	HealthCodeFailure     = 6
	HealthCodeCold        = 7
)

// RawReading is a host power reading before normalization.
type RawReading struct {
	Level       int
	Scale       int
	Status      int
	Plugged     int
	Health      int
	Temperature int // tenths of a degree Celsius
	Voltage     int // millivolts
	Technology  string
	Present     Field
}

// Has reports whether every field in f was supplied.
func (r RawReading) Has(f Field) bool {
	return r.Present&f == f
}
