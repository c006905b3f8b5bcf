package metadata

// Header keys attached to every published sensor event.
const (
	KeySensorName    = "sensor_name"
	KeyEventType     = "event_type"
	KeySequence      = "event_sequence"
	KeySchema        = "event_message_schema"
	KeyCorrelationID = "correlation_id"
	KeyTraceID       = "trace_id"
	KeySpanID        = "span_id"

	KeyCEID          = "ce_id"
	KeyCEType        = "ce_type"
	KeyCESource      = "ce_source"
	KeyCETime        = "ce_time"
	KeyCESpecVersion = "ce_specversion"
)

// CloudEventsSpecVersion is the value written under KeyCESpecVersion.
const CloudEventsSpecVersion = "1.0"

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// ForEvent returns the base headers for an event of eventType emitted by sensor.
func ForEvent(sensor, eventType string) Metadata {
	return New(
		KeySensorName, sensor,
		KeyEventType, eventType,
		KeyCEType, eventType,
		KeyCESource, "sensor/"+sensor,
		KeyCESpecVersion, CloudEventsSpecVersion,
	)
}
