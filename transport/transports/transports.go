// Package transports registers every built-in transport with the default
// registry. Import it for its side effects:
//
//	import _ "github.com/drblury/contractflow/transport/transports"
package transports

import (
	_ "github.com/drblury/contractflow/transport/aws"
	_ "github.com/drblury/contractflow/transport/channel"
	_ "github.com/drblury/contractflow/transport/http"
	_ "github.com/drblury/contractflow/transport/kafka"
	_ "github.com/drblury/contractflow/transport/memory"
	_ "github.com/drblury/contractflow/transport/nats"
	_ "github.com/drblury/contractflow/transport/rabbitmq"
	_ "github.com/drblury/contractflow/transport/websocket"
)
