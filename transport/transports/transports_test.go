package transports

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/contractflow/transport"
)

func TestAllSchemesRegistered(t *testing.T) {
	for _, scheme := range []string{"memory", "channel", "kafka", "amqp", "amqps", "nats", "aws", "http", "https", "ws", "wss"} {
		assert.True(t, transport.DefaultRegistry.Has(scheme), scheme)
	}
}
