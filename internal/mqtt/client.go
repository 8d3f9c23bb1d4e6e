package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// subscribeFailure код SUBACK об отказе в подписке (MQTT 3.1.1)
const subscribeFailure = 0x80

// MessageHandler функция обработки входящих MQTT сообщений
type MessageHandler func(topic string, payload []byte)

// Subscriber подписка на топики брокера
type Subscriber interface {
	Subscribe(topic string, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// Publisher публикация в топики брокера
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Client MQTT клиент с восстановлением подписок после переподключения
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *utils.Logger

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]MessageHandler
}

// NewClient создает новый MQTT клиент
func NewClient(cfg *config.MQTTConfig, logger *utils.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	c := &Client{
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]MessageHandler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.mu.Lock()
		c.connected = true
		subs := make(map[string]MessageHandler, len(c.subscriptions))
		for topic, handler := range c.subscriptions {
			subs[topic] = handler
		}
		c.mu.Unlock()

		c.logger.WithField("broker", cfg.URL).Info("Connected to MQTT broker")
		metrics.MQTTConnectionStatus.Set(1)

		// После переподключения подписки восстанавливаются
		for topic, handler := range subs {
			if err := c.subscribe(topic, handler); err != nil {
				c.logger.WithField("topic", topic).WithError(err).Error("Failed to restore subscription")
			}
		}
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		c.logger.WithError(err).Warn("Lost connection to MQTT broker")
		metrics.MQTTConnectionStatus.Set(0)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect подключается к MQTT брокеру
func (c *Client) Connect(ctx context.Context) error {
	c.logger.WithField("broker", c.config.URL).Info("Connecting to MQTT broker")

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return mapError(fmt.Errorf("failed to connect to MQTT broker: %w", err))
	}
	return nil
}

// Disconnect отключается от MQTT брокера
func (c *Client) Disconnect() {
	c.logger.Info("Disconnecting from MQTT broker")

	if c.client.IsConnected() {
		c.client.Disconnect(1000) // 1 секунда на graceful disconnect
	}
	metrics.MQTTConnectionStatus.Set(0)
	c.logger.Info("MQTT client disconnected")
}

// IsConnected проверяет статус подключения
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Subscribe подписывается на топик. Отказ брокера в подписке
// возвращается как models.ErrPermissionDenied.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if err := c.subscribe(topic, handler); err != nil {
		return err
	}

	c.mu.Lock()
	c.subscriptions[topic] = handler
	c.mu.Unlock()

	c.logger.WithField("topic", topic).Info("Subscribed to MQTT topic")
	return nil
}

func (c *Client) subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.config.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.logger.WithFields(map[string]interface{}{
			"topic":        msg.Topic(),
			"payload_size": len(msg.Payload()),
			"qos":          msg.Qos(),
			"retained":     msg.Retained(),
		}).Debug("Received MQTT message")
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return mapError(fmt.Errorf("subscribe to %s: %w", topic, err))
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		for t, code := range st.Result() {
			if code == subscribeFailure {
				return fmt.Errorf("subscribe to %s refused by broker: %w", t, models.ErrPermissionDenied)
			}
		}
	}
	return nil
}

// Unsubscribe отменяет подписку на топик
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("unsubscribe from %s: timeout", topic)
	}
	return token.Error()
}

// Publish отправляет сообщение в топик
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	token := c.client.Publish(topic, c.config.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"topic":        topic,
		"payload_size": len(payload),
	}).Debug("Published MQTT message")
	return nil
}

// GetStats возвращает статистику клиента
func (c *Client) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	return map[string]interface{}{
		"connected":     c.connected,
		"client_id":     c.config.ClientID,
		"broker_url":    c.config.URL,
		"subscriptions": topics,
	}
}

// mapError переводит отказ в авторизации в models.ErrPermissionDenied
func mapError(err error) error {
	if errors.Is(err, packets.ErrorRefusedNotAuthorised) || errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) {
		return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	}
	return err
}
