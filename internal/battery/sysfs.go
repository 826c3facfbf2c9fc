package battery

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/batterywidget/internal/errors"
)

const (
	ueventFile   = "uevent"
	ueventPrefix = "POWER_SUPPLY_"
	typeBattery  = "Battery"
)

// PowerState is the part of a reading whose change counts as a power event.
type PowerState struct {
	Status  int
	Plugged int
}

// PowerState returns the status/plug pair of the reading.
func (r RawReading) PowerState() PowerState {
	return PowerState{Status: r.Status, Plugged: r.Plugged}
}

// SysfsSource reads the Linux power_supply class.
type SysfsSource struct {
	cfg      SourceConfig
	mu       sync.Mutex
	resolved string
}

func NewSysfsSource(cfg SourceConfig) *SysfsSource {
	if cfg.Root == "" {
		cfg.Root = defaultSysfsRoot
	}

	return &SysfsSource{cfg: cfg}
}

func (s *SysfsSource) Read(ctx context.Context) (RawReading, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return RawReading{}, errFactory.Wrap(errors.ErrCancelled, err)
	}

	supply, err := s.batteryDir()
	if err != nil {
		return RawReading{}, err
	}

	props, err := readUevent(filepath.Join(s.cfg.Root, supply, ueventFile))
	if err != nil {
		return RawReading{}, err
	}

	raw := parseBattery(props)
	raw.Plugged, raw.Present = s.pluggedSources(raw.Present)

	return raw, nil
}

// batteryDir returns the configured or auto-detected battery directory.
func (s *SysfsSource) batteryDir() (string, error) {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Supply != "" {
		return s.cfg.Supply, nil
	}
	if s.resolved != "" {
		return s.resolved, nil
	}

	names, err := listSupplies(s.cfg.Root)
	if err != nil {
		return "", err
	}

	for _, name := range names {
		props, err := readUevent(filepath.Join(s.cfg.Root, name, ueventFile))
		if err != nil {
			continue
		}
		if props["TYPE"] == typeBattery {
			s.resolved = name
			return name, nil
		}
	}

	return "", errFactory.WithData(ErrSourceNotFound, struct {
		Root string
	}{s.cfg.Root})
}

// pluggedSources inspects the non-battery supplies and returns the host
// plug bitmask.
func (s *SysfsSource) pluggedSources(present Field) (int, Field) {
	names, err := listSupplies(s.cfg.Root)
	if err != nil {
		return 0, present
	}

	plugged := 0
	for _, name := range names {
		props, err := readUevent(filepath.Join(s.cfg.Root, name, ueventFile))
		if err != nil || props["TYPE"] == typeBattery {
			continue
		}
		if props["ONLINE"] != "1" {
			continue
		}
		switch props["TYPE"] {
		case "Mains":
			plugged |= PluggedAC
		case "USB", "USB_C", "USB_PD", "USB_DCP", "USB_CDP", "USB_ACA":
			plugged |= PluggedUSB
		case "Wireless":
			plugged |= PluggedWireless
		default:
			plugged |= PluggedDock
		}
	}

	return plugged, present | FieldPlugged
}

func listSupplies(root string) ([]string, error) {
	errFactory := errors.New()

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errFactory.Wrap(ErrSourceRead, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	return names, nil
}

// readUevent parses KEY=VALUE lines, dropping the POWER_SUPPLY_ prefix.
func readUevent(path string) (map[string]string, error) {
	errFactory := errors.New()

	f, err := os.Open(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrSourceRead, err)
	}
	defer f.Close()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		props[strings.TrimPrefix(key, ueventPrefix)] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, errFactory.Wrap(ErrSourceParse, err)
	}

	return props, nil
}

func parseBattery(props map[string]string) RawReading {
	var raw RawReading

	switch {
	case props["CAPACITY"] != "":
		if level, ok := atoi(props["CAPACITY"]); ok {
			raw.Level, raw.Scale = level, 100
			raw.Present |= FieldLevel | FieldScale
		}
	case props["ENERGY_NOW"] != "":
		raw.Present |= levelScale(&raw, props["ENERGY_NOW"], props["ENERGY_FULL"])
	case props["CHARGE_NOW"] != "":
		raw.Present |= levelScale(&raw, props["CHARGE_NOW"], props["CHARGE_FULL"])
	}

	if status, ok := props["STATUS"]; ok {
		raw.Status = statusCode(status)
		raw.Present |= FieldStatus
	}
	if health, ok := props["HEALTH"]; ok {
		raw.Health = healthCode(health)
		raw.Present |= FieldHealth
	}
	if temp, ok := atoi(props["TEMP"]); ok {
		raw.Temperature = temp
		raw.Present |= FieldTemperature
	}
	if microvolts, ok := atoi(props["VOLTAGE_NOW"]); ok {
		raw.Voltage = microvolts / 1000
		raw.Present |= FieldVoltage
	}
	if tech := props["TECHNOLOGY"]; tech != "" {
		raw.Technology = tech
		raw.Present |= FieldTechnology
	}

	return raw
}

func levelScale(raw *RawReading, now, full string) Field {
	level, okLevel := atoi(now)
	scale, okScale := atoi(full)
	if !okLevel || !okScale {
		return 0
	}
	raw.Level, raw.Scale = level, scale

	return FieldLevel | FieldScale
}

func statusCode(status string) int {
	switch status {
	case "Charging":
		return StatusCharging
	case "Discharging":
		return StatusDischarging
	case "Not charging":
		return StatusNotCharging
	case "Full":
		return StatusFull
	default:
		return StatusUnknown
	}
}

func healthCode(health string) int {
	switch health {
	case "Good":
		return HealthCodeGood
	case "Overheat", "Hot":
		return HealthCodeOverheat
	case "Dead":
		return HealthCodeDead
	case "Over voltage":
		return HealthCodeOverVoltage
	case "Unspecified failure":
		return HealthCodeFailure
	case "Cold":
		return HealthCodeCold
	default:
		return HealthCodeUnknown
	}
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}

	return v, true
}
