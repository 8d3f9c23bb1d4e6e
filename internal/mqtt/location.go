package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// LocationProvider поток отсчетов геолокации из MQTT топика
type LocationProvider struct {
	subscriber Subscriber
	topic      string
	parser     *Parser
	logger     *utils.Logger

	mu      sync.Mutex
	handler func(models.GeoSample)
	last    *models.GeoSample
}

// NewLocationProvider создает провайдер для топика отсчетов
func NewLocationProvider(subscriber Subscriber, topic string, logger *utils.Logger) *LocationProvider {
	return &LocationProvider{
		subscriber: subscriber,
		topic:      topic,
		parser:     NewParser(logger),
		logger:     logger,
	}
}

// Subscribe начинает доставку отсчетов в handler
func (p *LocationProvider) Subscribe(ctx context.Context, handler func(models.GeoSample)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()

	if err := p.subscriber.Subscribe(p.topic, p.onMessage); err != nil {
		p.mu.Lock()
		p.handler = nil
		p.mu.Unlock()
		return fmt.Errorf("subscribe location topic: %w", err)
	}
	return nil
}

// Unsubscribe прекращает доставку отсчетов
func (p *LocationProvider) Unsubscribe() {
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()

	if err := p.subscriber.Unsubscribe(p.topic); err != nil {
		p.logger.WithField("topic", p.topic).WithError(err).Warn("Failed to unsubscribe location topic")
	}
}

// CurrentLocation возвращает последний полученный отсчет
func (p *LocationProvider) CurrentLocation(ctx context.Context) (models.GeoSample, error) {
	if err := ctx.Err(); err != nil {
		return models.GeoSample{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return models.GeoSample{}, models.ErrNoFix
	}
	return *p.last, nil
}

func (p *LocationProvider) onMessage(topic string, payload []byte) {
	sample, err := p.parser.Parse(topic, payload)
	if err != nil {
		metrics.MQTTParseErrors.Inc()
		p.logger.WithField("topic", topic).WithError(err).Warn("Failed to parse location fix")
		return
	}
	metrics.MQTTMessagesReceived.WithLabelValues("location").Inc()

	p.mu.Lock()
	p.last = &sample
	handler := p.handler
	p.mu.Unlock()

	if handler != nil {
		handler(sample)
	}
}
