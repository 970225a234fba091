//go:build cloudintegration

package logarchive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/trackside/pkg/provider/s3"
	"github.com/3leaps/trackside/test/cloudtest"
)

func TestCloudWatchCopier_Moto(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	group := "/aws/trackside/" + cloudtest.BucketName(t)
	cloudtest.CreateLogStream(t, ctx, group, "job-1/algo-1-1700000000", "episode 1", "episode 2")
	cloudtest.CreateLogStream(t, ctx, group, "job-2/algo-1-1700000001", "someone else")

	awsCfg := cloudtest.AWSConfig(t)
	store, err := s3.New(awsCfg, s3.Config{Bucket: bucket, Endpoint: cloudtest.Endpoint, ForcePathStyle: true})
	require.NoError(t, err)

	c, err := NewCloudWatchCopierFromConfig(awsCfg, store, CopierConfig{StreamGlob: "*/algo-*"}, nil)
	require.NoError(t, err)

	dest := "s3://" + bucket + "/p1/models/m1/logs/training/job-1.log"
	stats, err := c.Copy(ctx, group, "job-1", dest)
	require.NoError(t, err)
	assert.Equal(t, "job-1/algo-1-1700000000", stats.LogStream)
	assert.Equal(t, 2, stats.Events)

	body := cloudtest.ReadObject(t, ctx, bucket, "p1/models/m1/logs/training/job-1.log")
	assert.Equal(t, "episode 1\nepisode 2\n", string(body))

	_, err = c.Copy(ctx, group, "job-9", dest)
	assert.ErrorIs(t, err, ErrNoLogStream)
}
