// Package execution talks to the managed training-job service (SageMaker)
// that runs training, evaluation, and submission jobs.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/workflow"
)

// ErrJobNotFound is returned when the service has no record of the job.
var ErrJobNotFound = errors.New("training job not found")

// API is the subset of the SageMaker client used here.
type API interface {
	DescribeTrainingJob(ctx context.Context, params *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error)
	StopTrainingJob(ctx context.Context, params *sagemaker.StopTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.StopTrainingJobOutput, error)
}

// JobDescription is the service's current view of a training job.
type JobDescription struct {
	Name   string
	Status workflow.TrainingJobStatus

	// ArtifactLocation is the model artifact output, empty until the job
	// has produced one.
	ArtifactLocation string

	// MaxRuntimeSeconds is the configured stopping condition; nil when none.
	MaxRuntimeSeconds *int64

	// ElapsedSeconds is the billable training time reported by the service.
	ElapsedSeconds int64

	FailureReason string
}

// Client describes and stops training jobs.
type Client struct {
	api    API
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client backed by a SageMaker client built from awsCfg.
func New(awsCfg aws.Config, opts ...Option) *Client {
	return NewWithAPI(sagemaker.NewFromConfig(awsCfg), opts...)
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(api API, opts ...Option) *Client {
	c := &Client{api: api, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe fetches the job's status, artifact location and runtimes.
func (c *Client) Describe(ctx context.Context, jobName string) (*JobDescription, error) {
	out, err := c.api.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(jobName),
	})
	if err != nil {
		return nil, wrapError("DescribeTrainingJob", jobName, err)
	}

	desc := &JobDescription{
		Name:           jobName,
		Status:         workflow.TrainingJobStatus(out.TrainingJobStatus),
		ElapsedSeconds: int64(aws.ToInt32(out.TrainingTimeInSeconds)),
		FailureReason:  aws.ToString(out.FailureReason),
	}
	if out.ModelArtifacts != nil {
		desc.ArtifactLocation = aws.ToString(out.ModelArtifacts.S3ModelArtifacts)
	}
	if out.StoppingCondition != nil && out.StoppingCondition.MaxRuntimeInSeconds != nil {
		v := int64(*out.StoppingCondition.MaxRuntimeInSeconds)
		desc.MaxRuntimeSeconds = &v
	}
	return desc, nil
}

// Stop stops the job if the service still reports it InProgress. Stopping a
// job in any other status is rejected by the service, so that case is logged
// and treated as success.
func (c *Client) Stop(ctx context.Context, jobName string) error {
	desc, err := c.Describe(ctx, jobName)
	if err != nil {
		return err
	}
	if desc.Status != workflow.TrainingJobInProgress {
		c.logger.Warn("training job not in progress, skipping stop",
			zap.String("job_name", jobName),
			zap.String("status", string(desc.Status)),
		)
		return nil
	}

	if _, err := c.api.StopTrainingJob(ctx, &sagemaker.StopTrainingJobInput{
		TrainingJobName: aws.String(jobName),
	}); err != nil {
		return wrapError("StopTrainingJob", jobName, err)
	}
	c.logger.Info("stopped training job", zap.String("job_name", jobName))
	return nil
}

// wrapError maps "does not exist" validation errors to ErrJobNotFound.
func wrapError(op, jobName string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException" &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "not found") {
		return fmt.Errorf("%s %s: %w", op, jobName, ErrJobNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, jobName, err)
}
