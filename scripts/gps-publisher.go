package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flybeeper/runtracker/internal/models"
	rtmqtt "github.com/flybeeper/runtracker/internal/mqtt"
)

// RunnerConfig параметры симуляции бегуна
type RunnerConfig struct {
	BrokerURL   string
	ClientID    string
	Topic       string
	Format      string // json или fanet
	ChipID      string
	DeviceAddr  uint32
	PublishRate time.Duration
	SpeedKmh    float64
	StopEvery   time.Duration // Как часто бегун останавливается (0 = никогда)
	StopFor     time.Duration
	MaxMessages int
	StartLat    float64
	StartLon    float64
	RandomSeed  int64
}

// RunnerState состояние симулированного бегуна
type RunnerState struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Heading    float64 // Градусы
	StoppedAt  time.Time
	MovingFrom time.Time
	LastUpdate time.Time
}

// Publisher публикует отсчеты симулированного бегуна
type Publisher struct {
	client mqtt.Client
	config *RunnerConfig
	rand   *rand.Rand
	runner *RunnerState
}

func main() {
	var (
		brokerURL   = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		clientID    = flag.String("client", "runtracker-gps-publisher", "MQTT client ID")
		topic       = flag.String("topic", "runtracker/location", "Topic for JSON fixes")
		format      = flag.String("format", "json", "Payload format: json or fanet")
		chipID      = flag.String("chip", "8896672", "Base station chip ID for FANET topics")
		rate        = flag.Duration("rate", time.Second, "Publish rate")
		speed       = flag.Float64("speed", 10.0, "Running speed km/h")
		stopEvery   = flag.Duration("stop-every", 0, "Stop at this interval (0 = never)")
		stopFor     = flag.Duration("stop-for", 45*time.Second, "Length of each stop")
		maxMessages = flag.Int("max", 0, "Max messages (0 = unlimited)")
		lat         = flag.Float64("lat", 46.5, "Start latitude")
		lon         = flag.Float64("lon", 8.1, "Start longitude")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	)
	flag.Parse()

	if *format != "json" && *format != "fanet" {
		log.Fatalf("unknown format %q", *format)
	}

	cfg := &RunnerConfig{
		BrokerURL:   *brokerURL,
		ClientID:    *clientID,
		Topic:       *topic,
		Format:      *format,
		ChipID:      *chipID,
		DeviceAddr:  0x0B1234,
		PublishRate: *rate,
		SpeedKmh:    *speed,
		StopEvery:   *stopEvery,
		StopFor:     *stopFor,
		MaxMessages: *maxMessages,
		StartLat:    *lat,
		StartLon:    *lon,
		RandomSeed:  *seed,
	}

	publisher, err := NewPublisher(cfg)
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}

	fmt.Printf("Broker: %s\n", cfg.BrokerURL)
	fmt.Printf("Topic: %s (%s)\n", publisher.topic(), cfg.Format)
	fmt.Printf("Speed: %.1f km/h, rate %v\n", cfg.SpeedKmh, cfg.PublishRate)
	if cfg.StopEvery > 0 {
		fmt.Printf("Stops: every %v for %v\n", cfg.StopEvery, cfg.StopFor)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		publisher.Start()
		close(done)
	}()

	select {
	case <-sigChan:
		fmt.Println("\nInterrupted")
	case <-done:
		fmt.Println("Done")
	}
	publisher.Stop()
}

// NewPublisher подключается к брокеру
func NewPublisher(cfg *RunnerConfig) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	rng := rand.New(rand.NewSource(cfg.RandomSeed))
	now := time.Now()
	return &Publisher{
		client: client,
		config: cfg,
		rand:   rng,
		runner: &RunnerState{
			Latitude:   cfg.StartLat,
			Longitude:  cfg.StartLon,
			Altitude:   400,
			Heading:    rng.Float64() * 360,
			MovingFrom: now,
			LastUpdate: now,
		},
	}, nil
}

// Start публикует отсчеты до лимита
func (p *Publisher) Start() {
	ticker := time.NewTicker(p.config.PublishRate)
	defer ticker.Stop()

	count := 0
	for range ticker.C {
		sample := p.step(time.Now())
		if err := p.publish(sample); err != nil {
			log.Printf("Publish failed: %v", err)
			continue
		}

		count++
		if count%30 == 0 {
			fmt.Printf("Published %d fixes, at %.5f, %.5f\n", count, sample.Latitude, sample.Longitude)
		}
		if p.config.MaxMessages > 0 && count >= p.config.MaxMessages {
			return
		}
	}
}

// Stop отключается от брокера
func (p *Publisher) Stop() {
	if p.client.IsConnected() {
		p.client.Disconnect(1000)
	}
}

// step двигает бегуна и возвращает отсчет с шумом GPS
func (p *Publisher) step(now time.Time) models.GeoSample {
	r := p.runner
	dt := now.Sub(r.LastUpdate).Seconds()
	r.LastUpdate = now

	moving := r.StoppedAt.IsZero()
	switch {
	case moving && p.config.StopEvery > 0 && now.Sub(r.MovingFrom) >= p.config.StopEvery:
		r.StoppedAt = now
		moving = false
	case !moving && now.Sub(r.StoppedAt) >= p.config.StopFor:
		r.StoppedAt = time.Time{}
		r.MovingFrom = now
		moving = true
	}

	speed := 0.0
	if moving {
		speed = p.config.SpeedKmh / 3.6 * (0.9 + p.rand.Float64()*0.2)
		distance := speed * dt

		headingRad := r.Heading * math.Pi / 180
		r.Latitude += distance * math.Cos(headingRad) / 111195.0
		r.Longitude += distance * math.Sin(headingRad) / (111195.0 * math.Cos(r.Latitude*math.Pi/180))

		if p.rand.Float64() < 0.05 {
			r.Heading = math.Mod(r.Heading+p.rand.Float64()*40-20+360, 360)
		}
	}

	// Шум приемника 2-4 м
	noise := 3.0 / 111195.0
	return models.NewGeoSample(
		r.Latitude+(p.rand.Float64()-0.5)*noise,
		r.Longitude+(p.rand.Float64()-0.5)*noise,
		now,
	).WithAccuracy(3 + p.rand.Float64()*5).WithSpeed(speed).WithAltitude(r.Altitude)
}

func (p *Publisher) topic() string {
	if p.config.Format == "fanet" {
		return fmt.Sprintf("fb/b/%s/f/7", p.config.ChipID)
	}
	return p.config.Topic
}

func (p *Publisher) publish(sample models.GeoSample) error {
	var payload []byte
	if p.config.Format == "fanet" {
		payload = rtmqtt.EncodeFANETGroundTracking(p.config.DeviceAddr, sample)
	} else {
		data, err := json.Marshal(rtmqtt.NewFixMessage(sample))
		if err != nil {
			return err
		}
		payload = data
	}

	token := p.client.Publish(p.topic(), 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", p.topic(), token.Error())
	}
	return nil
}
