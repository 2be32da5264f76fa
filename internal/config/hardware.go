package config

// Sensor kinds.
const (
	SensorPower         = "power"
	SensorEnvironmental = "environmental"
)

// SensorDescriptor declares one physical sensor on the I²C bus. Descriptors
// are part of the board wiring, not of the user-editable document; rules are
// validated against them.
type SensorDescriptor struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	BusAddr uint16 `json:"bus_addr"`
}

// Fields returns the sample field names the sensor kind reports; these are
// the names rule predicates may reference.
func (s SensorDescriptor) Fields() []string {
	switch s.Kind {
	case SensorPower:
		return []string{"voltage", "current", "power"}
	case SensorEnvironmental:
		return []string{"temperature", "humidity"}
	}
	return nil
}

// HasField reports whether the sensor declares the given field name.
func (s SensorDescriptor) HasField(field string) bool {
	for _, f := range s.Fields() {
		if f == field {
			return true
		}
	}
	return false
}

// DefaultSensors returns the board's sensor complement: one INA260 power
// monitor per switched rail plus the main rail, and the SHT30 environmental
// sensor.
func DefaultSensors() []SensorDescriptor {
	return []SensorDescriptor{
		{ID: "relay_1", Kind: SensorPower, BusAddr: 0x44},
		{ID: "relay_2", Kind: SensorPower, BusAddr: 0x45},
		{ID: "relay_3", Kind: SensorPower, BusAddr: 0x46},
		{ID: "relay_4", Kind: SensorPower, BusAddr: 0x47},
		{ID: "relay_5", Kind: SensorPower, BusAddr: 0x48},
		{ID: "relay_6", Kind: SensorPower, BusAddr: 0x49},
		{ID: "main", Kind: SensorPower, BusAddr: 0x4B},
		{ID: "environmental", Kind: SensorEnvironmental, BusAddr: 0x4A},
	}
}

// SensorByID returns the descriptor with the given id from the list, or nil.
func SensorByID(sensors []SensorDescriptor, id string) *SensorDescriptor {
	for i := range sensors {
		if sensors[i].ID == id {
			return &sensors[i]
		}
	}
	return nil
}
