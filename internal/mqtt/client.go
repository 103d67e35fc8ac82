package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/urbanflow/water-telemetry-worker/internal/config"
	"github.com/urbanflow/water-telemetry-worker/internal/dispatch"
	"go.uber.org/zap"
)

// subscriptions are the seven device-class topic filters, one per handler.
var subscriptions = []string{
	"meters/+/reading",
	"quality/+/data",
	"pressure/+/data",
	"flow/+/data",
	"pumps/+/status",
	"tanks/+/level",
	"pipes/+/leak",
}

// Client maintains the persistent broker connection and feeds raw
// deliveries into the dispatcher.
type Client struct {
	cfg        config.MQTTConfig
	paho       pahomqtt.Client
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// NewClient builds the MQTT client. The connection is established by
// Connect; paho handles reconnection with resubscribe on connect.
func NewClient(cfg config.MQTTConfig, dispatcher *dispatch.Dispatcher, logger *zap.Logger) *Client {
	c := &Client{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
	}

	clientID := fmt.Sprintf("%s%d", cfg.ClientIDPrefix, time.Now().UnixNano()%1000000)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.RetryInterval).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			logger.Warn("mqtt connection lost, reconnecting", zap.Error(err))
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.paho = pahomqtt.NewClient(opts)
	return c
}

// Connect establishes the broker connection and blocks until it succeeds
// or the configured timeout elapses. Subscriptions happen in onConnect so
// they are re-established after every reconnect.
func (c *Client) Connect() error {
	token := c.paho.Connect()
	if ok := token.WaitTimeout(c.cfg.ConnectTimeout); !ok {
		return fmt.Errorf("mqtt connect timed out after %s", c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect failed: %w", err)
	}
	return nil
}

// Disconnect cleanly unsubscribes and drops the broker connection.
func (c *Client) Disconnect() {
	if c.paho.IsConnected() {
		if token := c.paho.Unsubscribe(subscriptions...); token.WaitTimeout(2*time.Second) && token.Error() != nil {
			c.logger.Warn("failed to unsubscribe during shutdown", zap.Error(token.Error()))
		}
		c.paho.Disconnect(500)
	}
	c.logger.Info("mqtt client disconnected")
}

func (c *Client) onConnect(client pahomqtt.Client) {
	c.logger.Info("connected to mqtt broker", zap.String("broker", c.cfg.BrokerURL))

	filters := make(map[string]byte, len(subscriptions))
	for _, topic := range subscriptions {
		filters[topic] = byte(c.cfg.QoS)
	}

	if token := client.SubscribeMultiple(filters, c.handleMessage); token.Wait() && token.Error() != nil {
		c.logger.Error("failed to subscribe to telemetry topics", zap.Error(token.Error()))
		return
	}
	c.logger.Info("subscribed to telemetry topics", zap.Int("filters", len(subscriptions)))
}

// handleMessage runs on paho's internal goroutine and must not block. It
// copies the payload (paho reuses the underlying buffer) and hands off to
// the dispatcher's non-blocking enqueue.
func (c *Client) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	payload := msg.Payload()
	data := make([]byte, len(payload))
	copy(data, payload)

	c.dispatcher.Enqueue(msg.Topic(), data, time.Now().UTC())
}
