package itemstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/3leaps/trackside/pkg/workflow"
)

const jobColumns = `job_name, job_kind, model_id, profile_id, leaderboard_id, status,
	training_logs_location, simulation_logs_location, metrics_location, video_stream_url,
	evaluation_metrics, created_at, end_time`

// CreateJob inserts a new job record. CreatedAt defaults to the store clock.
func (s *Store) CreateJob(ctx context.Context, job Job) error {
	if job.JobName == "" || job.ModelID == "" || job.ProfileID == "" {
		return fmt.Errorf("job name, model id and profile id are required")
	}
	if !job.Kind.Valid() {
		return fmt.Errorf("invalid job kind %q", job.Kind)
	}
	if job.Status == "" {
		job.Status = JobStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}

	metrics, err := encodeMetrics(job.EvaluationMetrics)
	if err != nil {
		return err
	}
	var endTime sql.NullString
	if job.EndTime != nil {
		endTime = nullString(formatTime(*job.EndTime))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.JobName, string(job.Kind), job.ModelID, job.ProfileID, job.LeaderboardID, string(job.Status),
		nullString(job.TrainingLogsLocation), nullString(job.SimulationLogsLocation), nullString(job.MetricsLocation),
		nullString(job.VideoStreamURL), metrics, formatTime(job.CreatedAt), endTime,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads the job identified by key.
func (s *Store) GetJob(ctx context.Context, key JobKey) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE job_name = ? AND model_id = ? AND profile_id = ? AND leaderboard_id = ?
	`, key.JobName, key.ModelID, key.ProfileID, key.LeaderboardID)

	var (
		job                                      Job
		kind, status, createdAt                  string
		trainLogs, simLogs, metricsLoc, videoURL sql.NullString
		metrics, endTime                         sql.NullString
	)
	err := row.Scan(&job.JobName, &kind, &job.ModelID, &job.ProfileID, &job.LeaderboardID, &status,
		&trainLogs, &simLogs, &metricsLoc, &videoURL, &metrics, &createdAt, &endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, key.JobName)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	job.Kind = workflow.JobKind(kind)
	job.Status = JobStatus(status)
	job.TrainingLogsLocation = trainLogs.String
	job.SimulationLogsLocation = simLogs.String
	job.MetricsLocation = metricsLoc.String
	job.VideoStreamURL = videoURL.String
	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &job.EvaluationMetrics); err != nil {
			return nil, fmt.Errorf("decode evaluation metrics: %w", err)
		}
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse job created_at: %w", err)
	}
	if job.EndTime, err = parseNullTime(endTime); err != nil {
		return nil, fmt.Errorf("parse job end_time: %w", err)
	}
	return &job, nil
}

// UpdateJob applies a partial update. Only fields set on upd are written.
func (s *Store) UpdateJob(ctx context.Context, key JobKey, upd JobUpdate) error {
	var p partial
	if upd.Status != nil {
		p.set("status", string(*upd.Status))
	}
	if upd.EndTime != nil {
		p.set("end_time", formatTime(*upd.EndTime))
	}
	if upd.TrainingLogsLocation != nil {
		p.set("training_logs_location", nullString(*upd.TrainingLogsLocation))
	}
	if upd.SimulationLogsLocation != nil {
		p.set("simulation_logs_location", nullString(*upd.SimulationLogsLocation))
	}
	if upd.EvaluationMetrics != nil {
		metrics, err := encodeMetrics(*upd.EvaluationMetrics)
		if err != nil {
			return err
		}
		p.set("evaluation_metrics", metrics)
	}
	if upd.ClearVideoStreamURL {
		p.set("video_stream_url", sql.NullString{})
	}
	if p.empty() {
		return nil
	}

	args := append(p.args, key.JobName, key.ModelID, key.ProfileID, key.LeaderboardID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET `+p.clause()+`
		WHERE job_name = ? AND model_id = ? AND profile_id = ? AND leaderboard_id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return expectOne(res, "job "+key.JobName)
}

func encodeMetrics(metrics []EvaluationMetric) (sql.NullString, error) {
	if metrics == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(metrics)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode evaluation metrics: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
