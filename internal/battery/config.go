package battery

const defaultSysfsRoot = "/sys/class/power_supply"

type SourceConfig struct {
	// Root is the power_supply class directory.
	Root string
	// Supply names the battery directory under Root. Empty selects the
	// first supply of type Battery.
	Supply string
}

func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Root: defaultSysfsRoot,
	}
}
