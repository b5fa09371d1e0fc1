package publish

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttClient is the part of mqtt.Client used here.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes every event to <topic>/events and the latest one, retained, to <topic>/state.
type MQTT struct {
	client mqttClient
	topic  string
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
}

// NewMQTT connects to the broker.
func NewMQTT(o MQTTOptions) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &MQTT{client: client, topic: o.Topic}, nil
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.JSON()
	if err != nil {
		return err
	}
	if err := m.send(ctx, m.topic+"/events", false, payload); err != nil {
		return err
	}
	return m.send(ctx, m.topic+"/state", true, payload)
}

func (m *MQTT) send(ctx context.Context, topic string, retained bool, payload []byte) error {
	token := m.client.Publish(topic, 1, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
