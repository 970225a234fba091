package logarchive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/trackside/pkg/provider/file"
)

// fakeLogs serves pages of events for a single stream. Each page's forward
// token is its index; the last page repeats its own token.
type fakeLogs struct {
	streams     []string
	pages       [][]string
	describeErr error
	getErr      error
	getCalls    int
	tokensSeen  []string
}

func (f *fakeLogs) DescribeLogStreams(_ context.Context, in *cloudwatchlogs.DescribeLogStreamsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	out := &cloudwatchlogs.DescribeLogStreamsOutput{}
	for _, s := range f.streams {
		out.LogStreams = append(out.LogStreams, types.LogStream{LogStreamName: aws.String(s)})
	}
	return out, nil
}

func (f *fakeLogs) GetLogEvents(_ context.Context, in *cloudwatchlogs.GetLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.getCalls++
	f.tokensSeen = append(f.tokensSeen, aws.ToString(in.NextToken))

	idx := 0
	if in.NextToken != nil {
		for i := range f.pages {
			if tokenFor(i) == *in.NextToken {
				idx = i + 1
			}
		}
	}
	if idx >= len(f.pages) {
		last := len(f.pages) - 1
		return &cloudwatchlogs.GetLogEventsOutput{NextForwardToken: aws.String(tokenFor(last))}, nil
	}
	out := &cloudwatchlogs.GetLogEventsOutput{NextForwardToken: aws.String(tokenFor(idx))}
	for _, msg := range f.pages[idx] {
		out.Events = append(out.Events, types.OutputLogEvent{Message: aws.String(msg)})
	}
	return out, nil
}

func tokenFor(i int) string {
	return "f/" + string(rune('a'+i))
}

func newLocalBucket(t *testing.T) (*file.Provider, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := file.New(file.Config{BaseDir: dir, Bucket: "models"})
	require.NoError(t, err)
	return p, dir
}

func TestCopy_PagesUntilEmpty(t *testing.T) {
	store, dir := newLocalBucket(t)
	api := &fakeLogs{
		streams: []string{"train-1/algo-1-1700000000"},
		pages:   [][]string{{"one", "two"}, {"three"}},
	}
	c, err := NewCloudWatchCopier(api, store, CopierConfig{}, nil)
	require.NoError(t, err)

	stats, err := c.Copy(context.Background(), "/group", "train-1", "s3://models/p1/models/m1/logs/training/x.log")
	require.NoError(t, err)
	assert.Equal(t, "train-1/algo-1-1700000000", stats.LogStream)
	assert.Equal(t, 3, stats.Events)
	assert.Equal(t, 3, stats.Pages, "two pages of events then one empty page")

	b, err := os.ReadFile(filepath.Join(dir, "p1", "models", "m1", "logs", "training", "x.log"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", string(b))
	assert.Equal(t, int64(len(b)), stats.Bytes)
	assert.Equal(t, []string{"", "f/a", "f/b"}, api.tokensSeen)
}

func TestCopy_StopsOnRepeatedToken(t *testing.T) {
	store, _ := newLocalBucket(t)
	api := &repeatingLogs{fakeLogs: fakeLogs{streams: []string{"eval-1"}}}
	c, err := NewCloudWatchCopier(api, store, CopierConfig{}, nil)
	require.NoError(t, err)

	stats, err := c.Copy(context.Background(), "/group", "eval-1", "s3://models/k.log")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 2, stats.Events)
}

// repeatingLogs always returns one event and the same forward token.
type repeatingLogs struct {
	fakeLogs
}

func (r *repeatingLogs) GetLogEvents(_ context.Context, _ *cloudwatchlogs.GetLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	return &cloudwatchlogs.GetLogEventsOutput{
		Events:           []types.OutputLogEvent{{Message: aws.String("tick")}},
		NextForwardToken: aws.String("same"),
	}, nil
}

func TestCopy_StreamGlobSelectsStream(t *testing.T) {
	store, dir := newLocalBucket(t)
	api := &fakeLogs{
		streams: []string{"race-1/sidecar", "race-1/algo-1-99"},
		pages:   [][]string{{"lap"}},
	}
	c, err := NewCloudWatchCopier(api, store, CopierConfig{StreamGlob: "*/algo-*", RequestsPerSecond: 1000}, nil)
	require.NoError(t, err)

	stats, err := c.Copy(context.Background(), "/group", "race-1", "s3://models/sim.log")
	require.NoError(t, err)
	assert.Equal(t, "race-1/algo-1-99", stats.LogStream)
	assert.FileExists(t, filepath.Join(dir, "sim.log"))
}

func TestCopy_Errors(t *testing.T) {
	store, _ := newLocalBucket(t)
	ctx := context.Background()

	_, err := NewCloudWatchCopier(&fakeLogs{}, store, CopierConfig{StreamGlob: "[unclosed"}, nil)
	assert.Error(t, err)

	c, err := NewCloudWatchCopier(&fakeLogs{}, store, CopierConfig{}, nil)
	require.NoError(t, err)
	_, err = c.Copy(ctx, "/group", "job", "s3://models/x.log")
	assert.ErrorIs(t, err, ErrNoLogStream)

	_, err = c.Copy(ctx, "/group", "job", "s3://other-bucket/x.log")
	assert.ErrorContains(t, err, "outside bucket")

	_, err = c.Copy(ctx, "/group", "job", "not-a-uri")
	assert.Error(t, err)

	cause := errors.New("throttled")
	c, err = NewCloudWatchCopier(&fakeLogs{streams: []string{"job"}, getErr: cause}, store, CopierConfig{}, nil)
	require.NoError(t, err)
	_, err = c.Copy(ctx, "/group", "job", "s3://models/x.log")
	assert.ErrorIs(t, err, cause)
}

func TestCopy_MaxPagesTruncates(t *testing.T) {
	store, _ := newLocalBucket(t)
	api := &fakeLogs{streams: []string{"job"}, pages: [][]string{{"a"}, {"b"}, {"c"}}}
	c, err := NewCloudWatchCopier(api, store, CopierConfig{MaxPages: 2}, nil)
	require.NoError(t, err)

	stats, err := c.Copy(context.Background(), "/group", "job", "s3://models/x.log")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Events)
	assert.Equal(t, 2, api.getCalls)
}
