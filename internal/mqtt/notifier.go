package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flybeeper/runtracker/internal/service"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// Notifier публикует события движка в топик {prefix}/{type}
type Notifier struct {
	publisher Publisher
	prefix    string
	logger    *utils.Logger
}

// NewNotifier создает канал уведомлений поверх MQTT
func NewNotifier(publisher Publisher, prefix string, logger *utils.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		prefix:    prefix,
		logger:    logger,
	}
}

// Notify публикует событие
func (n *Notifier) Notify(ctx context.Context, event service.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	topic := n.Topic(event.Type)
	if err := n.publisher.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("notify %s: %w", event.Type, err)
	}

	n.logger.WithFields(map[string]interface{}{
		"topic":  topic,
		"run_id": event.RunID,
	}).Debug("Event published")
	return nil
}

// Topic возвращает топик для типа события
func (n *Notifier) Topic(t service.EventType) string {
	return n.prefix + "/" + string(t)
}
