package link

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event is one observation a device hands to its Link.
type Event struct {
	// Type names the event, e.g. "kinect.presence". Required.
	Type string
	// Sequence increases by one per event emitted by a device.
	Sequence uint64
	// Timestamp is when the observation was made. Zero means "now".
	Timestamp time.Time
	// Fields holds JSON-compatible values: strings, bools, numbers, nil,
	// []any and map[string]any. Typed slices are not accepted.
	Fields map[string]any
}

// Envelope is the decoded form of a published payload.
type Envelope struct {
	Sensor    string
	Type      string
	Sequence  uint64
	Timestamp time.Time
	Data      map[string]any
}

var payloadMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// PayloadSchema is written under the schema metadata key.
const PayloadSchema = "google.protobuf.Struct"

// EncodePayload renders ev as a protobuf Struct in JSON form.
func EncodePayload(sensor string, ev Event) ([]byte, error) {
	data := ev.Fields
	if data == nil {
		data = map[string]any{}
	}
	body, err := structpb.NewStruct(map[string]any{
		"sensor":    sensor,
		"type":      ev.Type,
		"sequence":  ev.Sequence,
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":      data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	return payloadMarshalOptions.Marshal(body)
}

// DecodePayload parses a payload produced by EncodePayload.
func DecodePayload(payload []byte) (Envelope, error) {
	var body structpb.Struct
	if err := protojson.Unmarshal(payload, &body); err != nil {
		return Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	fields := body.GetFields()

	env := Envelope{
		Sensor:   fields["sensor"].GetStringValue(),
		Type:     fields["type"].GetStringValue(),
		Sequence: uint64(fields["sequence"].GetNumberValue()),
	}
	if ts := fields["timestamp"].GetStringValue(); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Envelope{}, fmt.Errorf("decode event timestamp: %w", err)
		}
		env.Timestamp = parsed
	}
	if data := fields["data"].GetStructValue(); data != nil {
		env.Data = data.AsMap()
	}
	return env, nil
}
