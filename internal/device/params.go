package device

// Param selects a device side channel.
type Param int

const (
	// ParamAccessorySuspended suspends (1) or resumes (0) a render accessory.
	ParamAccessorySuspended Param = iota
	// ParamCaptureSuspended does the same for a capture accessory.
	ParamCaptureSuspended
	// ParamBitrate is the last link bitrate reported by the accessory.
	ParamBitrate
	// ParamMTU is the last link MTU reported by the accessory.
	ParamMTU
	// ParamECRefCount is the number of render devices feeding echo reference.
	ParamECRefCount
)

var paramNames = [...]string{
	ParamAccessorySuspended: "accessory_suspended",
	ParamCaptureSuspended:   "capture_suspended",
	ParamBitrate:            "bitrate",
	ParamMTU:                "mtu",
	ParamECRefCount:         "ec_ref_count",
}

func (p Param) String() string {
	if p >= 0 && int(p) < len(paramNames) {
		return paramNames[p]
	}
	return "unknown"
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
