package filter

import (
	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/models"
	"github.com/flybeeper/runtracker/pkg/utils"
)

// Validator цепочка фильтров для входящих отсчетов
type Validator struct {
	filters []SampleFilter
	config  *FilterConfig
	logger  *utils.Logger
}

// NewValidator создает валидатор с фильтрами в зависимости от конфигурации
func NewValidator(config *FilterConfig, logger *utils.Logger) *Validator {
	if config == nil {
		config = DefaultFilterConfig()
	}

	v := &Validator{
		filters: make([]SampleFilter, 0, 5),
		config:  config,
		logger:  logger,
	}

	// Физически невозможные отсчеты отклоняются всегда
	v.AddFilter(CoordinateFilter{})
	v.AddFilter(NonNegativeFilter{})

	if config.RejectOutOfOrder {
		v.AddFilter(OrderFilter{})
	}
	if config.MaxAccuracyMeters > 0 {
		v.AddFilter(AccuracyFilter{MaxMeters: config.MaxAccuracyMeters})
	}
	if config.MaxSpeedKmh > 0 {
		v.AddFilter(SpeedFilter{MaxSpeedKmh: config.MaxSpeedKmh})
	}

	return v
}

// AddFilter добавляет фильтр в цепочку
func (v *Validator) AddFilter(f SampleFilter) {
	v.filters = append(v.filters, f)
}

// Filters возвращает имена фильтров в порядке применения
func (v *Validator) Filters() []string {
	names := make([]string, len(v.filters))
	for i, f := range v.filters {
		names[i] = f.Name()
	}
	return names
}

// Validate прогоняет отсчет через цепочку; первая причина отклонения возвращается как *RejectionError
func (v *Validator) Validate(sample models.GeoSample, prev *models.GeoSample) error {
	for _, f := range v.filters {
		reason := f.Check(sample, prev)
		if reason == "" {
			continue
		}

		metrics.SamplesRejected.WithLabelValues(f.Name()).Inc()
		v.logger.WithFields(map[string]interface{}{
			"filter": f.Name(),
			"reason": reason,
			"lat":    sample.Latitude,
			"lon":    sample.Longitude,
		}).Debug("Sample rejected")

		return &RejectionError{Filter: f.Name(), Reason: reason}
	}

	metrics.SamplesAccepted.Inc()
	return nil
}
