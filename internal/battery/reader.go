package battery

import (
	"math"
	"time"

	"codeberg.org/mutker/batterywidget/internal/errors"
)

// Reader normalizes raw host readings into Snapshots.
type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

// Read converts raw into a Snapshot captured at capturedAt. It fails with
// ErrInvalidReading when the level cannot be resolved to a percentage in
// [0,100]; every other missing field falls back to its Unknown/zero value.
func (*Reader) Read(raw RawReading, capturedAt time.Time) (Snapshot, error) {
	percent, err := levelPercent(raw)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		CapturedAtMillis: capturedAt.UnixMilli(),
		LevelPercent:     percent,
	}

	if raw.Has(FieldStatus) {
		snap.ChargeState = chargeStateFromCode(raw.Status)
	}
	if raw.Has(FieldPlugged) {
		snap.PlugSource = plugSourceFromCode(raw.Plugged)
	}
	if raw.Has(FieldHealth) {
		snap.HealthState = healthFromCode(raw.Health)
	}
	if raw.Has(FieldTemperature) {
		snap.TemperatureDeciC = int32OrZero(raw.Temperature)
	}
	if raw.Has(FieldVoltage) {
		snap.VoltageMillivolts = int32OrZero(raw.Voltage)
	}
	if raw.Has(FieldTechnology) {
		snap.Technology = raw.Technology
	}

	return snap, nil
}

// int32OrZero treats a value outside the int32 range as omitted.
func int32OrZero(v int) int32 {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0
	}
	return int32(v)
}

func levelPercent(raw RawReading) (uint8, error) {
	errFactory := errors.New()

	if !raw.Has(FieldLevel | FieldScale) {
		return 0, errFactory.WithData(ErrInvalidReading, "level or scale missing")
	}
	if raw.Scale <= 0 {
		return 0, errFactory.WithData(ErrInvalidReading, struct {
			Level int
			Scale int
		}{raw.Level, raw.Scale})
	}
	if raw.Level < 0 {
		return 0, errFactory.WithData(ErrInvalidReading, struct {
			Level int
			Scale int
		}{raw.Level, raw.Scale})
	}

	percent := int64(raw.Level) * 100 / int64(raw.Scale)
	if percent > 100 {
		return 0, errFactory.WithData(ErrInvalidReading, struct {
			Level int
			Scale int
		}{raw.Level, raw.Scale})
	}

	return uint8(percent), nil
}

func chargeStateFromCode(code int) ChargeState {
	switch code {
	case StatusCharging:
		return ChargeCharging
	case StatusDischarging:
		return ChargeDischarging
	case StatusNotCharging:
		return ChargeNotCharging
	case StatusFull:
		return ChargeFull
	default:
		return ChargeUnknown
	}
}

func plugSourceFromCode(code int) PlugSource {
	switch {
	case code <= 0:
		return PlugNone
	case code&PluggedAC != 0:
		return PlugAC
	case code&PluggedUSB != 0:
		return PlugUSB
	case code&PluggedWireless != 0:
		return PlugWireless
	default:
		return PlugOther
	}
}

func healthFromCode(code int) HealthState {
	switch code {
	case HealthCodeGood:
		return HealthGood
	case HealthCodeOverheat:
		return HealthOverheat
	case HealthCodeDead:
		return HealthDead
	case HealthCodeOverVoltage:
		return HealthOverVoltage
	case HealthCodeFailure:
		return HealthFailure
	case HealthCodeCold:
		return HealthCold
	default:
		return HealthUnknown
	}
}
