package publish

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/itohio/capbridge/pkg/config"
)

// disconnectQuiesce is how long Close lets in-flight messages drain, in ms.
const disconnectQuiesce = 250

// mqttClient is the part of mqtt.Client the publisher needs.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes messages to an MQTT broker.
type MQTT struct {
	client mqttClient
	topic  string
	qos    byte
}

var _ Publisher = (*MQTT)(nil)

// DialMQTT connects to the broker described by cfg.
func DialMQTT(cfg config.BusConfig) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout + time.Second) {
		return nil, fmt.Errorf("failed to connect to broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", cfg.Broker, err)
	}

	return newMQTT(client, cfg.Topic, cfg.QoS), nil
}

func newMQTT(client mqttClient, topic string, qos byte) *MQTT {
	return &MQTT{client: client, topic: topic, qos: qos}
}

// Publish encodes m and hands it to the client without waiting for the
// broker to acknowledge it.
func (p *MQTT) Publish(ctx context.Context, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}

// Close disconnects from the broker.
func (p *MQTT) Close() error {
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
