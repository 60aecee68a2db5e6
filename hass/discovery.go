package hass

// Discovery is the Home Assistant MQTT discovery payload for one sensor entity.
type Discovery struct {
	// https://www.home-assistant.io/integrations/sensor/#device-class
	DeviceClass string `json:"dev_cla,omitempty"`
	Unit        string `json:"unit_of_meas,omitempty"`
	// https://developers.home-assistant.io/docs/core/entity/sensor/#available-state-classes
	StateClass        string `json:"stat_cla,omitempty"`
	Name              string `json:"name"`
	StateTopic        string `json:"stat_t"`
	AvailabilityTopic string `json:"avty_t,omitempty"`
	UniqID            string `json:"uniq_id"`
	ObjectID          string `json:"obj_id,omitempty"`
	Icon              string `json:"ic,omitempty"`
	Precision         *int   `json:"sug_dsp_prc,omitempty"`
	Dev               *Dev   `json:"dev"`
}

type Dev struct {
	IDs             []string `json:"ids"`
	Name            string   `json:"name"`
	SoftwareVersion string   `json:"sw,omitempty"`
	Model           string   `json:"mdl,omitempty"`
	Manufacturer    string   `json:"mf,omitempty"`
	SerialNumber    string   `json:"sn,omitempty"`
}
