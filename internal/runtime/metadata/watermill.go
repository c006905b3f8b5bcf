package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill reads the headers of a received sensor event. The result is
// never nil.
func FromWatermill(headers message.Metadata) Metadata {
	md := make(Metadata, len(headers))
	maps.Copy(md, headers)
	return md
}

// ToWatermill returns the headers to attach to an outgoing message.
func ToWatermill(md Metadata) message.Metadata {
	headers := make(message.Metadata, len(md))
	maps.Copy(headers, md)
	return headers
}
