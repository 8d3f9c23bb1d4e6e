package mqtt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// FixMessage JSON отсчет геолокации от телефона или часов
type FixMessage struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Alt      *float64 `json:"alt,omitempty"`   // Высота (м)
	Accuracy *float64 `json:"acc,omitempty"`   // Точность (м)
	Speed    *float64 `json:"speed,omitempty"` // Скорость (м/с)
	TS       int64    `json:"ts"`              // Unix время в миллисекундах
}

// NewFixMessage формирует сообщение из отсчета
func NewFixMessage(s models.GeoSample) FixMessage {
	lat, lon := s.Latitude, s.Longitude
	return FixMessage{
		Lat:      &lat,
		Lon:      &lon,
		Alt:      s.Altitude,
		Accuracy: s.Accuracy,
		Speed:    s.Speed,
		TS:       s.Timestamp.UnixMilli(),
	}
}

// FANET Type 7: наземное отслеживание
const fanetGroundTracking = 7

// Parser разбирает входящие отсчеты: JSON и бинарные пакеты FANET
// наземного трекера (топик fb/b/{chip_id}/f/7)
type Parser struct {
	logger *utils.Logger
}

// NewParser создает новый парсер
func NewParser(logger *utils.Logger) *Parser {
	return &Parser{
		logger: logger,
	}
}

// Parse разбирает сообщение из топика в отсчет геолокации.
// Координаты не проверяются: это задача валидатора движка.
func (p *Parser) Parse(topic string, payload []byte) (models.GeoSample, error) {
	if strings.HasPrefix(topic, "fb/") {
		return p.parseFANET(topic, payload)
	}
	return p.parseJSON(payload)
}

func (p *Parser) parseJSON(payload []byte) (models.GeoSample, error) {
	var msg FixMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.GeoSample{}, fmt.Errorf("invalid fix JSON: %w", err)
	}
	if msg.Lat == nil || msg.Lon == nil {
		return models.GeoSample{}, fmt.Errorf("fix without coordinates")
	}
	if msg.TS <= 0 {
		return models.GeoSample{}, fmt.Errorf("fix without timestamp")
	}

	return models.GeoSample{
		Latitude:  *msg.Lat,
		Longitude: *msg.Lon,
		Altitude:  msg.Alt,
		Accuracy:  msg.Accuracy,
		Speed:     msg.Speed,
		Timestamp: time.UnixMilli(msg.TS).UTC(),
	}, nil
}

// parseFANET разбирает пакет базовой станции:
// [timestamp u32][rssi i16][snr i16][header u8][address 3 байта][payload]
func (p *Parser) parseFANET(topic string, payload []byte) (models.GeoSample, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "fb" || parts[1] != "b" || parts[3] != "f" {
		return models.GeoSample{}, fmt.Errorf("invalid topic format: %s", topic)
	}

	// Обертка базовой станции (8 байт) + заголовок FANET (4 байта)
	if len(payload) < 12 {
		return models.GeoSample{}, fmt.Errorf("payload too short: %d bytes", len(payload))
	}

	timestamp := int64(binary.LittleEndian.Uint32(payload[0:4]))
	fanetData := payload[8:]

	// Биты 0-2 заголовка: тип пакета
	msgType := fanetData[0] & 0x07
	if expected := fmt.Sprintf("%d", msgType); parts[4] != expected {
		return models.GeoSample{}, fmt.Errorf("packet type mismatch: topic has %s, FANET header has %d", parts[4], msgType)
	}
	if msgType != fanetGroundTracking {
		return models.GeoSample{}, fmt.Errorf("unsupported FANET packet type: %d", msgType)
	}

	deviceAddr := uint32(fanetData[1]) | uint32(fanetData[2])<<8 | uint32(fanetData[3])<<16
	data := fanetData[4:]
	if len(data) < 6 {
		return models.GeoSample{}, fmt.Errorf("ground tracking data too short: %d bytes", len(data))
	}

	// Координаты: знаковые 24-bit, lat * 93206.04, lon * 46603.02
	sample := models.GeoSample{
		Latitude:  float64(int24(data[0:3])) / 93206.04,
		Longitude: float64(int24(data[3:6])) / 46603.02,
		Timestamp: time.Unix(timestamp, 0).UTC(),
	}

	p.logger.WithFields(map[string]interface{}{
		"device_id": fmt.Sprintf("%06X", deviceAddr),
		"chip_id":   parts[2],
	}).Debug("Parsed FANET ground tracking fix")

	return sample, nil
}

// int24 декодирует знаковое 24-bit little-endian число
func int24(b []byte) int32 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v&0x800000 != 0 {
		v |= ^0xFFFFFF
	}
	return v
}

// EncodeFANETGroundTracking кодирует отсчет в пакет FANET Type 7
// в обертке базовой станции
func EncodeFANETGroundTracking(deviceAddr uint32, s models.GeoSample) []byte {
	payload := make([]byte, 19)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(s.Timestamp.Unix()))
	payload[8] = fanetGroundTracking
	payload[9] = byte(deviceAddr)
	payload[10] = byte(deviceAddr >> 8)
	payload[11] = byte(deviceAddr >> 16)
	putInt24(payload[12:15], int32(s.Latitude*93206.04))
	putInt24(payload[15:18], int32(s.Longitude*46603.02))
	payload[18] = 0x01 // Онлайн трекинг
	return payload
}

func putInt24(b []byte, v int32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
