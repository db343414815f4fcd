package services

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-resty/resty/v2"

	"air-quality-platform/internal/models"
	"air-quality-platform/pkg/logging"
	"air-quality-platform/pkg/metrics"
)

// PollutionExtractor queries the air pollution history endpoint
type PollutionExtractor struct {
	client   *resty.Client
	endpoint string
	apiKey   string
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

type historyResponse struct {
	List []json.RawMessage `json:"list"`
}

// NewPollutionExtractor creates a new extractor. The client's own timeout and
// retry settings are used as-is.
func NewPollutionExtractor(client *resty.Client, endpoint, apiKey string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PollutionExtractor {
	return &PollutionExtractor{
		client:   client,
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Extract issues a single request covering [start, end] and returns the raw
// records. Every failure is logged and yields an empty result.
func (e *PollutionExtractor) Extract(ctx context.Context, lat, lon float64, start, end int64) []models.RawRecord {
	query := logging.Fields{
		"lat":   lat,
		"lon":   lon,
		"start": start,
		"end":   end,
	}
	e.logger.Info(ctx, "[EXTRACT_REQUEST] Requesting air pollution history", query)

	timer := e.metrics.NewTimer(e.metrics.APIRequestDuration)
	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":   strconv.FormatFloat(lat, 'f', -1, 64),
			"lon":   strconv.FormatFloat(lon, 'f', -1, 64),
			"start": strconv.FormatInt(start, 10),
			"end":   strconv.FormatInt(end, 10),
			"appid": e.apiKey,
		}).
		Get(e.endpoint)
	timer.ObserveDuration()

	if err != nil {
		e.metrics.RecordAPIRequest("transport")
		e.logger.Error(ctx, "[EXTRACT_TRANSPORT_ERROR] API request failed", query, err)
		return nil
	}

	if resp.StatusCode() != 200 {
		e.metrics.RecordAPIRequest(metrics.StatusClass(resp.StatusCode()))
		e.logger.Error(ctx, "[EXTRACT_STATUS_ERROR] API request failed", logging.Fields{
			"lat":    lat,
			"lon":    lon,
			"status": resp.StatusCode(),
			"body":   resp.String(),
		}, nil)
		return nil
	}

	var payload historyResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		e.metrics.RecordAPIRequest("decode")
		e.logger.Error(ctx, "[EXTRACT_DECODE_ERROR] Failed to decode API response", logging.Fields{
			"lat":  lat,
			"lon":  lon,
			"body": resp.String(),
		}, err)
		return nil
	}
	e.metrics.RecordAPIRequest(metrics.StatusClass(resp.StatusCode()))

	records := make([]models.RawRecord, 0, len(payload.List))
	for _, raw := range payload.List {
		records = append(records, models.NewRawRecord(raw))
	}
	e.metrics.RecordsExtractedTotal.Add(float64(len(records)))

	e.logger.Info(ctx, "[EXTRACT_COMPLETE] Retrieved air pollution records", logging.Fields{
		"lat":          lat,
		"lon":          lon,
		"start":        start,
		"end":          end,
		"record_count": len(records),
	})

	if len(records) == 0 {
		e.logger.Warn(ctx, "[EXTRACT_EMPTY] API returned no records for window", query)
		return records
	}

	e.logger.Debug(ctx, "[EXTRACT_FIRST] First record", logging.Fields{
		"record": records[0].Payload(),
	})

	return records
}
