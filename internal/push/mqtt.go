package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const topicPrefix = "deliveryflow/push/"

// MQTTTransport publishes notifications to a per-principal topic that the
// mobile apps subscribe to, e.g. deliveryflow/push/courier/c1.
type MQTTTransport struct {
	client mqtt.Client
}

func NewMQTTTransport(client mqtt.Client) *MQTTTransport {
	return &MQTTTransport{client: client}
}

func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

func Topic(target string) string {
	return topicPrefix + strings.ReplaceAll(target, ":", "/")
}

func (t *MQTTTransport) Send(ctx context.Context, n Notification) error {
	if !t.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	token := t.client.Publish(Topic(n.Target), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
