package device

import "encoding/json"

// Facts is the fixed identity record gathered from a device immediately
// after session establishment. A Facts value handed to the device callback
// is always complete: fields whose reply could not be parsed are empty
// strings, never missing.
type Facts struct {
	// OSVersion is the device software version (e.g. "15.1X53-D59.3").
	OSVersion string `json:"os_version"`

	// Hostname is the device's configured host name.
	Hostname string `json:"hostname"`

	// SerialNumber is the chassis serial number.
	SerialNumber string `json:"device_sn"`

	// Model is the hardware model (e.g. "EX2300-48T").
	Model string `json:"device_model"`

	// MgmtInterface is the physical interface the device uses to reach
	// this server (e.g. "vme").
	MgmtInterface string `json:"mgmt_interface"`

	// MgmtIPAddr is the address assigned to the management interface,
	// without the prefix length.
	MgmtIPAddr string `json:"mgmt_ipaddr"`

	// MgmtMACAddr is the hardware address of the management interface.
	MgmtMACAddr string `json:"mgmt_macaddr"`
}

// String renders the record as compact JSON for logging.
func (f *Facts) String() string {
	b, err := json.Marshal(f)
	if err != nil {
		return "{}"
	}
	return string(b)
}
