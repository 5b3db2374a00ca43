package domain

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total_increasing (for acc energy)
	DeviceClass       string // voltage, current, power, energy, battery, temperature
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
}

type GenericBinarySensor struct {
	Device           Device
	Id               string
	Name             string
	UniqueId         string
	DeviceClass      string // problem, running, power
	EntityCategory   string
	EnabledByDefault *bool
	Icon             string
}
