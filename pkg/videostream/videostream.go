// Package videostream manages the live video streams attached to jobs.
package videostream

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
	"go.uber.org/zap"
)

// API is the subset of the Kinesis Video client used here.
type API interface {
	DeleteStream(ctx context.Context, params *kinesisvideo.DeleteStreamInput, optFns ...func(*kinesisvideo.Options)) (*kinesisvideo.DeleteStreamOutput, error)
}

type Client struct {
	api    API
	logger *zap.Logger
}

// New creates a Client backed by a Kinesis Video client built from awsCfg.
func New(awsCfg aws.Config, logger *zap.Logger) *Client {
	return NewWithAPI(kinesisvideo.NewFromConfig(awsCfg), logger)
}

func NewWithAPI(api API, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, logger: logger}
}

// Delete removes the stream. A stream that no longer exists is not an error.
func (c *Client) Delete(ctx context.Context, streamArn string) error {
	_, err := c.api.DeleteStream(ctx, &kinesisvideo.DeleteStreamInput{StreamARN: aws.String(streamArn)})
	if err == nil {
		c.logger.Info("deleted video stream", zap.String("stream_arn", streamArn))
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		c.logger.Warn("video stream was already deleted", zap.String("stream_arn", streamArn))
		return nil
	}
	return fmt.Errorf("delete video stream %s: %w", streamArn, err)
}
