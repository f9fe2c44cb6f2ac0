package ultimaker

// Snapshot is one normalized poll-cycle record describing printer state.
// It mirrors the shape of the printer's JSON API: the /printer payload at the
// top level, the /print_job fields merged over it, and the secondary payloads
// attached under their own keys ("system", "ambient_temperature", ...).
//
// A Snapshot is owned by the poller that produced it and must be treated as
// read-only by consumers; the poller hands out deep copies of its cached
// snapshot, never the cached snapshot itself.
type Snapshot map[string]any

// Well-known snapshot keys.
const (
	KeyStatus          = "status"
	KeyState           = "state"
	KeyProgress        = "progress"
	KeyActivity        = "activity"
	KeySampleTime      = "sampleTime"
	KeyUsingCachedData = "using_cached_data"
	KeySystem          = "system"
	KeyAmbient         = "ambient_temperature"
	KeyLatestFirmware  = "latest_firmware"
	KeyCameraStream    = "camera_stream_url"
	KeyCameraSnapshot  = "camera_snapshot_url"
)

// Status values reported by the bridge itself rather than the printer.
const (
	StatusIdle          = "idle"
	StatusPrinting      = "printing"
	StatusUnknown       = "unknown"
	StatusNotConnected  = "not connected"
	StatusTimeout       = "timeout"
	StatusError         = "error"
	StatusNotConfigured = "not configured"
)

// requiredDefaults lists every path entity consumers read without checking
// for presence. FillDefaults guarantees these leaves exist after merging.
var requiredDefaults = []struct {
	path  []any
	value any
}{
	{[]any{"bed", "temperature", "current"}, 0.0},
	{[]any{"bed", "temperature", "target"}, 0.0},
	{[]any{"bed", "type"}, StatusUnknown},
	{[]any{"heads", 0, "extruders", 0, "hotend", "id"}, StatusUnknown},
	{[]any{"heads", 0, "extruders", 0, "hotend", "temperature", "current"}, 0.0},
	{[]any{"heads", 0, "extruders", 0, "hotend", "temperature", "target"}, 0.0},
	{[]any{"heads", 0, "extruders", 0, "hotend", "statistics", "material_extruded"}, 0.0},
	{[]any{"heads", 0, "extruders", 0, "active_material", "GUID"}, StatusUnknown},
	{[]any{"heads", 0, "extruders", 0, "active_material", "length_remaining"}, 0.0},
	{[]any{"heads", 0, "extruders", 1, "hotend", "id"}, StatusUnknown},
	{[]any{"heads", 0, "extruders", 1, "hotend", "temperature", "current"}, 0.0},
	{[]any{"heads", 0, "extruders", 1, "hotend", "temperature", "target"}, 0.0},
	{[]any{"heads", 0, "extruders", 1, "hotend", "statistics", "material_extruded"}, 0.0},
	{[]any{"heads", 0, "extruders", 1, "active_material", "GUID"}, StatusUnknown},
	{[]any{"heads", 0, "extruders", 1, "active_material", "length_remaining"}, 0.0},
}

// Merge copies every top-level key of src into the snapshot, overwriting
// existing keys. Used to fold the /print_job payload into the /printer
// payload; a nil or empty src (no active job) is a no-op.
func (s Snapshot) Merge(src map[string]any) {
	for key, value := range src {
		s[key] = value
	}
}

// FillDefaults inserts a zero/"unknown" leaf at every required path that is
// missing, creating intermediate containers as needed. Existing values are
// never touched, so applying it twice is the same as applying it once.
func (s Snapshot) FillDefaults() {
	for _, def := range requiredDefaults {
		fillPath(map[string]any(s), def.path, def.value)
	}
}

func fillPath(node any, path []any, value any) any {
	switch seg := path[0].(type) {
	case string:
		m, ok := node.(map[string]any)
		if !ok {
			m = make(map[string]any)
		}
		if len(path) == 1 {
			if _, exists := m[seg]; !exists {
				m[seg] = value
			}
		} else {
			m[seg] = fillPath(m[seg], path[1:], value)
		}
		return m
	case int:
		sl, ok := node.([]any)
		if !ok {
			sl = nil
		}
		for len(sl) <= seg {
			sl = append(sl, nil)
		}
		if len(path) == 1 {
			if sl[seg] == nil {
				sl[seg] = value
			}
		} else {
			sl[seg] = fillPath(sl[seg], path[1:], value)
		}
		return sl
	}
	return node
}

// SetPath writes value at path, creating intermediate containers as needed
// and overwriting whatever is there.
func (s Snapshot) SetPath(path []any, value any) {
	setPath(map[string]any(s), path, value)
}

func setPath(node any, path []any, value any) any {
	switch seg := path[0].(type) {
	case string:
		m, ok := node.(map[string]any)
		if !ok {
			m = make(map[string]any)
		}
		if len(path) == 1 {
			m[seg] = value
		} else {
			m[seg] = setPath(m[seg], path[1:], value)
		}
		return m
	case int:
		sl, ok := node.([]any)
		if !ok {
			sl = nil
		}
		for len(sl) <= seg {
			sl = append(sl, nil)
		}
		if len(path) == 1 {
			sl[seg] = value
		} else {
			sl[seg] = setPath(sl[seg], path[1:], value)
		}
		return sl
	}
	return node
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	return Snapshot(deepCopy(map[string]any(s)).(map[string]any))
}

func deepCopy(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = deepCopy(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, value := range v {
			out[i] = deepCopy(value)
		}
		return out
	default:
		return v
	}
}

// Lookup walks the snapshot along path, where string segments index maps and
// int segments index slices. It reports false when any step is missing or of
// the wrong shape.
func (s Snapshot) Lookup(path ...any) (any, bool) {
	var node any = map[string]any(s)
	for _, seg := range path {
		switch key := seg.(type) {
		case string:
			m, ok := node.(map[string]any)
			if !ok {
				return nil, false
			}
			node, ok = m[key]
			if !ok {
				return nil, false
			}
		case int:
			sl, ok := node.([]any)
			if !ok || key < 0 || key >= len(sl) {
				return nil, false
			}
			node = sl[key]
		default:
			return nil, false
		}
	}
	return node, true
}

// GetString returns the string at path, or "" when absent or not a string.
func (s Snapshot) GetString(path ...any) string {
	value, ok := s.Lookup(path...)
	if !ok {
		return ""
	}
	str, _ := value.(string)
	return str
}

// GetFloat returns the number at path. JSON numbers decode as float64, but
// test fixtures and the cloud mapper also produce ints.
func (s Snapshot) GetFloat(path ...any) (float64, bool) {
	value, ok := s.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// GetBool returns the boolean at path, or false when absent.
func (s Snapshot) GetBool(path ...any) bool {
	value, ok := s.Lookup(path...)
	if !ok {
		return false
	}
	b, _ := value.(bool)
	return b
}

// UsingCachedData reports whether this snapshot was served from the
// last-known-good cache instead of a live poll.
func (s Snapshot) UsingCachedData() bool {
	return s.GetBool(KeyUsingCachedData)
}
