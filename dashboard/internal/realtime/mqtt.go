package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gridpoint-energy/fleetview/pkg/types"
)

// SubscriberConfig configures the push-channel MQTT adapter.
type SubscriberConfig struct {
	BrokerURL string // e.g. tcp://broker.fleet.local:1883
	ClientID  string
	// TopicPattern is the subscription filter; the node id occupies the
	// second segment (e.g. "fleet/+/systems" delivers fleet/<node>/systems).
	TopicPattern string
	QoS          byte
}

// Subscriber feeds push updates from an MQTT broker into a Cache.
//
// The broker being unreachable is a degraded state, not an error: the cache
// is marked disconnected and the dashboard runs on snapshot data alone.
type Subscriber struct {
	cache  *Cache
	cfg    SubscriberConfig
	logger *slog.Logger
	client mqtt.Client
}

// NewSubscriber creates the adapter. Connect must be called to start it.
func NewSubscriber(cache *Cache, cfg SubscriberConfig, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPattern == "" {
		cfg.TopicPattern = "fleet/+/systems"
	}
	return &Subscriber{
		cache:  cache,
		cfg:    cfg,
		logger: logger.With("component", "push_subscriber"),
	}
}

// Connect dials the broker and subscribes. Auto-reconnect is on; the cache's
// connected flag tracks the session state through reconnects.
func (s *Subscriber) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.cache.SetConnected(true)
		s.logger.Info("push channel connected", "broker", s.cfg.BrokerURL)
		if token := c.Subscribe(s.cfg.TopicPattern, s.cfg.QoS, s.handleMessage); token.Wait() && token.Error() != nil {
			s.logger.Error("push subscribe failed",
				"topic", s.cfg.TopicPattern,
				"error", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.cache.SetConnected(false)
		s.logger.Warn("push channel lost, degrading to snapshot-only", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		// Retry keeps running in the background; report but do not fail hard.
		return fmt.Errorf("push channel connect: %w", token.Error())
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (s *Subscriber) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
	s.cache.SetConnected(false)
}

// handleMessage decodes one push update and stores it. Malformed messages
// are logged and dropped; one bad payload never stops the channel.
func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var update types.PushUpdate
	if err := json.Unmarshal(msg.Payload(), &update); err != nil {
		s.logger.Warn("dropping malformed push message",
			"topic", msg.Topic(),
			"error", err)
		return
	}

	nodeID := update.NodeID
	if nodeID == "" {
		nodeID = nodeFromTopic(msg.Topic())
	}
	if nodeID == "" {
		s.logger.Warn("dropping push message with no node id", "topic", msg.Topic())
		return
	}

	s.cache.OnMessage(nodeID, update)
	s.logger.Debug("push update cached",
		"node_id", nodeID,
		"systems", len(update.Systems))
}

// nodeFromTopic extracts the node id from the second topic segment.
func nodeFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
