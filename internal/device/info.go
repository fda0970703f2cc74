// internal/device/info.go
package device

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"hcom/internal/model"
)

// infoFields maps the labels a device uses in its info text, lower-cased,
// to DeviceInfo fields. Later entries win, so a specific label such as
// "processor type" overrides a bare "processor".
var infoFields = []struct {
	key string
	set func(*model.DeviceInfo, string)
}{
	{"product", func(d *model.DeviceInfo, v string) { d.Product = v }},
	{"model", func(d *model.DeviceInfo, v string) { d.Model = v }},
	{"processor", func(d *model.DeviceInfo, v string) { d.ProcessorType = v }},
	{"processor type", func(d *model.DeviceInfo, v string) { d.ProcessorType = v }},
	{"hardware", func(d *model.DeviceInfo, v string) { d.HardwareVersion = v }},
	{"hardware version", func(d *model.DeviceInfo, v string) { d.HardwareVersion = v }},
	{"serial number", func(d *model.DeviceInfo, v string) { d.SerialNumber = v }},
	{"device name", func(d *model.DeviceInfo, v string) { d.DeviceName = v }},
	{"os version", func(d *model.DeviceInfo, v string) { d.OsVersion = v }},
	{"runtime version", func(d *model.DeviceInfo, v string) { d.RuntimeVersion = v }},
	{"coprocessor", func(d *model.DeviceInfo, v string) { d.CoprocessorType = v }},
	{"coprocessor type", func(d *model.DeviceInfo, v string) { d.CoprocessorType = v }},
	{"coprocessor version", func(d *model.DeviceInfo, v string) { d.CoprocessorVersion = v }},
}

// ParseDeviceInfo parses "Key: Value, Key: Value" text. A segment
// without a colon continues the previous value, so values may contain
// commas.
func ParseDeviceInfo(text string) model.DeviceInfo {
	info := model.DeviceInfo{
		Properties:  make(map[string]string),
		RetrievedAt: time.Now(),
	}

	var lastKey string
	for _, segment := range strings.Split(text, ",") {
		key, value, ok := strings.Cut(segment, ":")
		if !ok {
			if lastKey != "" {
				info.Properties[lastKey] += "," + segment
			}
			continue
		}
		lastKey = strings.TrimSpace(key)
		info.Properties[lastKey] = strings.TrimSpace(value)
	}

	labels := make(map[string]string, len(info.Properties))
	for key, value := range info.Properties {
		info.Properties[key] = strings.TrimSpace(value)
		labels[strings.ToLower(key)] = info.Properties[key]
	}
	for _, f := range infoFields {
		if value, ok := labels[f.key]; ok {
			f.set(&info, value)
		}
	}

	return info
}

// fileEntryPattern matches "name", "name 1024" or "name [0x1a2b3c4d] 1024"
var fileEntryPattern = regexp.MustCompile(`^(.*?)(?:\s+\[(0x[0-9a-fA-F]+)\])?(?:\s+(\d+))?\s*$`)

// ParseFileEntry parses one file list member
func ParseFileEntry(text string) model.FileInfo {
	m := fileEntryPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return model.FileInfo{Name: strings.TrimSpace(text)}
	}

	entry := model.FileInfo{Name: m[1]}
	if m[2] != "" {
		if crc, err := strconv.ParseUint(m[2][2:], 16, 32); err == nil {
			v := uint32(crc)
			entry.Crc32 = &v
		}
	}
	if m[3] != "" {
		if size, err := strconv.ParseInt(m[3], 10, 64); err == nil {
			entry.Size = &size
		}
	}
	return entry
}
