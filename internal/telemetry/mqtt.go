// Package telemetry mirrors proxy events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/osus-project/osus-proxy/internal/config"
	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/util"
)

// Topics are prefixed with the client id.
const (
	TopicChat     = "chat"
	TopicSpoof    = "spoof"
	TopicExchange = "exchange"
	TopicStatus   = "status"
)

var topicByEvent = map[events.EventType]string{
	events.EventChatMessage:        TopicChat,
	events.EventPrivilegeSpoofed:   TopicSpoof,
	events.EventDirectSuppressed:   TopicSpoof,
	events.EventCountrySpoofed:     TopicSpoof,
	events.EventUserIdentified:     TopicStatus,
	events.EventExchangeCompleted:  TopicExchange,
	events.EventExchangeFailed:     TopicExchange,
	events.EventPreferencesChanged: TopicStatus,
	events.EventUpdateAvailable:    TopicStatus,
	events.EventBackendHealth:      TopicStatus,
}

// MQTTHandler publishes bus events as JSON messages.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	prefix   string
	logger   zerolog.Logger

	// Included in every message.
	metadata map[string]interface{}
}

// NewMQTTHandler builds a handler from cfg. It does not connect.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker_url is empty")
	}

	sysInfo := util.GetSystemInfo()
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("%s-%s", util.AppName, sysInfo.Hostname)
	}

	h := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		prefix:   clientID,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
			"app":      util.AppName,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig, err := mqttTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Str("broker", cfg.BrokerURL).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func mqttTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Start connects, forwards events until ctx is cancelled, then disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.unsubscribeEvents()
	h.publish(TopicStatus, map[string]interface{}{"event": string(events.EventShutdown)})
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	for eventType := range topicByEvent {
		h.eventBus.Subscribe(eventType, "mqtt", h.onEvent)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for eventType := range topicByEvent {
		h.eventBus.Unsubscribe(eventType, "mqtt")
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	topic, ok := topicByEvent[event.Type]
	if !ok {
		return nil
	}
	h.publish(topic, map[string]interface{}{
		"event":   string(event.Type),
		"source":  event.Source,
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) topic(name string) string {
	return h.prefix + "/" + name
}

func (h *MQTTHandler) publish(topic string, payload map[string]interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	full := h.topic(topic)
	token := h.client.Publish(full, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", full).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(payload map[string]interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+len(payload)+1)
	for k, v := range h.metadata {
		msg[k] = v
	}
	for k, v := range payload {
		msg[k] = v
	}
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
