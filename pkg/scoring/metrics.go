package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/provider"
	"github.com/3leaps/trackside/pkg/s3path"
)

// metricsFile is the document the simulation writes at the end of a run.
type metricsFile struct {
	Metrics []rawMetric `json:"metrics"`
}

type rawMetric struct {
	Trial                     int     `json:"trial"`
	CompletionPercentage      float64 `json:"completion_percentage"`
	ElapsedTimeInMilliseconds int64   `json:"elapsed_time_in_milliseconds"`
	EpisodeStatus             string  `json:"episode_status"`
	CrashCount                int64   `json:"crash_count"`
	OffTrackCount             int64   `json:"off_track_count"`
	ResetCount                int64   `json:"reset_count"`
}

// DecodeMetrics parses a simulation metrics document. An empty body yields
// no metrics.
func DecodeMetrics(data []byte) ([]itemstore.EvaluationMetric, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var f metricsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	out := make([]itemstore.EvaluationMetric, 0, len(f.Metrics))
	for _, m := range f.Metrics {
		out = append(out, itemstore.EvaluationMetric{
			Trial:                     m.Trial,
			CompletionPercentage:      m.CompletionPercentage,
			ElapsedTimeInMilliseconds: m.ElapsedTimeInMilliseconds,
			EpisodeStatus:             m.EpisodeStatus,
			CrashCount:                m.CrashCount,
			OffTrackCount:             m.OffTrackCount,
			ResetCount:                m.ResetCount,
		})
	}
	return out, nil
}

// MetricsReader loads metrics documents from the model data bucket.
type MetricsReader struct {
	store  provider.Provider
	logger *zap.Logger
}

// NewMetricsReader reads from store.
func NewMetricsReader(store provider.Provider, logger *zap.Logger) *MetricsReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsReader{store: store, logger: logger}
}

// Read loads and decodes the metrics at location, an s3:// URI in the
// reader's bucket. A missing object means the run produced no laps and is
// not an error.
func (r *MetricsReader) Read(ctx context.Context, location string) ([]itemstore.EvaluationMetric, error) {
	uri, err := s3path.Parse(location)
	if err != nil {
		return nil, err
	}
	if uri.Bucket != r.store.Bucket() {
		return nil, fmt.Errorf("metrics location %s is outside bucket %s", location, r.store.Bucket())
	}

	body, _, err := r.store.GetObject(ctx, uri.Key)
	if provider.IsNotFound(err) {
		r.logger.Warn("metrics object not found", zap.String("metrics_location", location))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read metrics %s: %w", location, err)
	}
	metrics, err := DecodeMetrics(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	if len(metrics) == 0 {
		r.logger.Warn("metrics document is empty", zap.String("metrics_location", location))
	}
	return metrics, nil
}
