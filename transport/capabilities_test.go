package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_RequiresHeartbeat(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{name: "detects loss", caps: Capabilities{DetectsConnectionLoss: true}, want: false},
		{name: "silent loss", caps: Capabilities{}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.RequiresHeartbeat())
		})
	}
}

func TestCapabilities_RequiresTargetFiltering(t *testing.T) {
	assert.False(t, MemoryCapabilities.RequiresTargetFiltering())
	assert.False(t, WebSocketCapabilities.RequiresTargetFiltering())
	assert.True(t, KafkaCapabilities.RequiresTargetFiltering())
}

func TestCapabilities_Fits(t *testing.T) {
	assert.True(t, Capabilities{}.Fits(10<<20), "zero means unlimited")
	assert.True(t, AWSCapabilities.Fits(262144))
	assert.False(t, AWSCapabilities.Fits(262145))
}

func TestPredefinedCapabilities(t *testing.T) {
	for _, caps := range []Capabilities{
		MemoryCapabilities, ChannelCapabilities, KafkaCapabilities, RabbitMQCapabilities,
		NATSCapabilities, AWSCapabilities, HTTPCapabilities, WebSocketCapabilities,
	} {
		assert.NotEmpty(t, caps.Name)
	}
	assert.True(t, MemoryCapabilities.SupportsRequestReply)
	assert.True(t, KafkaCapabilities.Durable)
}

func TestGetCapabilities_Unknown(t *testing.T) {
	caps := GetCapabilities("does-not-exist")
	assert.Equal(t, "does-not-exist", caps.Name)
	assert.False(t, caps.SupportsOrdering)
}
