package discovery

import (
	"strings"

	"github.com/google/uuid"

	"github.com/n3c4s/alohomora/internal/device"
)

const (
	txtDeviceType = "device_type"
	txtOS         = "os"
	txtOSVersion  = "os_version"
	txtAppVersion = "app_version"
	txtDeviceName = "device_name"
	txtDeviceID   = "device_id"

	unknown = "Unknown"
)

func localTXT(d *device.Info) map[string]string {
	return map[string]string{
		txtDeviceType: d.Type.String(),
		txtOS:         orUnknown(d.OS),
		txtOSVersion:  orUnknown(d.OSVersion),
		txtAppVersion: orUnknown(d.AppVersion),
		txtDeviceName: orUnknown(d.Name),
		txtDeviceID:   d.ID,
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}

// recordID is the announced device id, or a stable id derived from the
// instance name for peers that do not announce one.
func recordID(r ServiceRecord) string {
	if id, err := uuid.Parse(r.TXT[txtDeviceID]); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(r.Instance)).String()
}

// parseRecord never rejects a record: missing or unparseable attributes
// become "Unknown".
func parseRecord(r ServiceRecord) *device.Info {
	txt := r.TXT
	if txt == nil {
		txt = map[string]string{}
	}
	var ip string
	for _, a := range r.Addrs {
		if a == nil {
			continue
		}
		if a.To4() != nil {
			ip = a.String()
			break
		}
		if ip == "" {
			ip = a.String()
		}
	}
	d := device.FromNetwork(
		recordID(r),
		orUnknown(txt[txtDeviceName]),
		device.ParseType(txt[txtDeviceType]),
		orUnknown(txt[txtOS]),
		orUnknown(txt[txtOSVersion]),
		orUnknown(txt[txtAppVersion]),
		ip,
		r.Port,
	)
	d.Metadata["instance"] = r.Instance
	if r.HostName != "" {
		d.Metadata["hostname"] = r.HostName
	}
	return d
}
