package plcman

// TagInfo describes a single configured tag: its S7 address/name, resolved
// type, and whether it can be written. S7 has no online tag discovery, so
// every TagInfo in this package originates from config.TagSelection via
// BuildManualTags.
type TagInfo struct {
	Name       string   // S7 address (e.g. "DB1.DBD0")
	TypeCode   uint16   // s7 package type code
	TypeName   string   // human-readable type name
	Dimensions []uint32 // array dimensions, empty for scalars
	Writable   bool
}

// IsArray returns true if this tag is an array.
func (t TagInfo) IsArray() bool {
	return len(t.Dimensions) > 0
}

// DeviceInfo describes the connected CPU, as reported by GetCPUInfo.
type DeviceInfo struct {
	Vendor       string
	Model        string
	Version      string
	SerialNumber string
	Description  string
}
