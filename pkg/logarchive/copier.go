// Package logarchive copies job process logs from CloudWatch Logs into the
// model data bucket and records where they landed.
package logarchive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/trackside/pkg/provider"
	"github.com/3leaps/trackside/pkg/s3path"
)

// ErrNoLogStream is returned when no stream in the group matches the job.
var ErrNoLogStream = errors.New("no matching log stream")

// LogsAPI is the subset of the CloudWatch Logs client used here.
type LogsAPI interface {
	DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// CopierConfig tunes stream selection and request pacing.
type CopierConfig struct {
	// StreamGlob filters the streams found under the job-name prefix
	// (doublestar syntax). Empty matches every stream.
	StreamGlob string

	// RequestsPerSecond paces CloudWatch Logs calls. Zero means unlimited.
	RequestsPerSecond float64

	// MaxPages bounds GetLogEvents paging for a single stream. Zero means no bound.
	MaxPages int
}

// CopyStats summarizes one copied stream.
type CopyStats struct {
	LogStream string
	Events    int
	Bytes     int64
	Pages     int
}

// CloudWatchCopier streams one log stream per call into object storage.
type CloudWatchCopier struct {
	api     LogsAPI
	store   provider.Provider
	cfg     CopierConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewCloudWatchCopier validates cfg and builds a copier writing into store.
func NewCloudWatchCopier(api LogsAPI, store provider.Provider, cfg CopierConfig, logger *zap.Logger) (*CloudWatchCopier, error) {
	if cfg.StreamGlob != "" && !doublestar.ValidatePattern(cfg.StreamGlob) {
		return nil, fmt.Errorf("invalid log stream glob %q", cfg.StreamGlob)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CloudWatchCopier{api: api, store: store, cfg: cfg, logger: logger}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// NewCloudWatchCopierFromConfig builds the CloudWatch Logs client from awsCfg.
func NewCloudWatchCopierFromConfig(awsCfg aws.Config, store provider.Provider, cfg CopierConfig, logger *zap.Logger) (*CloudWatchCopier, error) {
	return NewCloudWatchCopier(cloudwatchlogs.NewFromConfig(awsCfg), store, cfg, logger)
}

// Copy writes the first stream in logGroup whose name starts with
// streamPrefix (and matches StreamGlob) to destination, an s3:// URI inside
// the copier's bucket. Events are written one message per line.
func (c *CloudWatchCopier) Copy(ctx context.Context, logGroup, streamPrefix, destination string) (*CopyStats, error) {
	dest, err := s3path.Parse(destination)
	if err != nil {
		return nil, err
	}
	if dest.Bucket != c.store.Bucket() {
		return nil, fmt.Errorf("destination %s is outside bucket %s", destination, c.store.Bucket())
	}

	stream, err := c.findStream(ctx, logGroup, streamPrefix)
	if err != nil {
		return nil, err
	}

	stats := &CopyStats{LogStream: stream}
	var buf bytes.Buffer
	var token *string
	for {
		if c.cfg.MaxPages > 0 && stats.Pages >= c.cfg.MaxPages {
			c.logger.Warn("log stream page limit reached, archive truncated",
				zap.String("log_group", logGroup),
				zap.String("log_stream", stream),
				zap.Int("pages", stats.Pages),
			)
			break
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		out, err := c.api.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
			LogGroupName:  aws.String(logGroup),
			LogStreamName: aws.String(stream),
			NextToken:     token,
			StartFromHead: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("get log events %s/%s: %w", logGroup, stream, err)
		}
		stats.Pages++
		if len(out.Events) == 0 {
			break
		}
		for _, ev := range out.Events {
			buf.WriteString(aws.ToString(ev.Message))
			buf.WriteByte('\n')
		}
		stats.Events += len(out.Events)

		// The forward token repeats once the end of the stream is reached.
		next := out.NextForwardToken
		if next == nil || (token != nil && *next == *token) {
			break
		}
		token = next
	}

	stats.Bytes = int64(buf.Len())
	if err := c.store.PutObject(ctx, dest.Key, bytes.NewReader(buf.Bytes()), stats.Bytes); err != nil {
		return nil, err
	}
	c.logger.Debug("archived log stream",
		zap.String("log_group", logGroup),
		zap.String("log_stream", stream),
		zap.String("destination", destination),
		zap.Int("events", stats.Events),
		zap.Int64("bytes", stats.Bytes),
	)
	return stats, nil
}

func (c *CloudWatchCopier) findStream(ctx context.Context, logGroup, prefix string) (string, error) {
	var token *string
	for {
		if err := c.wait(ctx); err != nil {
			return "", err
		}
		out, err := c.api.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
			LogGroupName:        aws.String(logGroup),
			LogStreamNamePrefix: aws.String(prefix),
			NextToken:           token,
		})
		if err != nil {
			return "", fmt.Errorf("describe log streams %s: %w", logGroup, err)
		}
		for _, s := range out.LogStreams {
			name := aws.ToString(s.LogStreamName)
			if name == "" {
				continue
			}
			if c.cfg.StreamGlob == "" {
				return name, nil
			}
			if ok, _ := doublestar.Match(c.cfg.StreamGlob, name); ok {
				return name, nil
			}
		}
		if out.NextToken == nil || aws.ToString(out.NextToken) == "" {
			break
		}
		token = out.NextToken
	}
	return "", fmt.Errorf("%w: group %s prefix %s", ErrNoLogStream, logGroup, prefix)
}

func (c *CloudWatchCopier) wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	return c.limiter.Wait(ctx)
}
