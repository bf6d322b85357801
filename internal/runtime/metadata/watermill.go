package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies Watermill message headers into a Metadata map.
func FromWatermill(md message.Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}

	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies metadata into Watermill message headers so brokers that
// surface headers (Kafka, AMQP, NATS) carry trace identifiers outside the
// envelope body.
func ToWatermill(metadata Metadata) message.Metadata {
	if len(metadata) == 0 {
		return message.Metadata{}
	}

	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}
