package push

import (
	"net/http"

	"github.com/joao-fontenele/deliveryflow/internal/config"
)

// Dial picks MQTT when a broker is configured and the HTTP gateway otherwise.
// It returns a nil Transport when neither is configured.
func Dial(cfg config.PushConfig, client *http.Client) (Transport, func(), error) {
	switch {
	case cfg.MQTTBroker != "":
		conn, err := ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			return nil, nil, err
		}
		return NewMQTTTransport(conn), func() { conn.Disconnect(250) }, nil
	case cfg.ServiceURL != "":
		return NewHTTPTransport(cfg.ServiceURL, client), func() {}, nil
	default:
		return nil, func() {}, nil
	}
}
