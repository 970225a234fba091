// Package s3path builds and parses object locations in the model data bucket.
//
// Layout (per model):
//
//	s3://{bucket}/{profileId}/models/{modelId}/
//	    logs/{jobKind}/{timestamp}-{jobName}-{logType}.log
//	    metrics/{jobKind}/{timestamp}-{jobName}.json
//	    videos/{jobKind}/{timestamp}-{jobName}/camera-pip/0-video.mp4
package s3path

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/trackside/pkg/workflow"
)

var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrMissingBucket indicates the URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// timestampLayout matches millisecond-precision UTC ISO-8601, the format
// already present on existing objects.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// URI is a parsed s3:// location.
type URI struct {
	Bucket string
	Key    string
}

// String returns the URI in canonical form.
func (u URI) String() string {
	return fmt.Sprintf("s3://%s/%s", u.Bucket, u.Key)
}

// Parse splits an s3://bucket/key URI.
func Parse(uri string) (URI, error) {
	if uri == "" {
		return URI{}, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return URI{}, fmt.Errorf("%w: %q is not an s3:// URI", ErrInvalidURI, uri)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return URI{}, fmt.Errorf("%w: %q", ErrMissingBucket, uri)
	}
	return URI{Bucket: bucket, Key: key}, nil
}

// LogType names an archived process log.
type LogType string

const (
	LogTraining   LogType = "training"
	LogSimulation LogType = "simulation"
)

// Layout derives object locations for one bucket.
type Layout struct {
	Bucket string
}

// ModelRoot returns s3://{bucket}/{profileId}/models/{modelId}/.
func (l Layout) ModelRoot(profileID, modelID string) string {
	return fmt.Sprintf("s3://%s/%s/models/%s/", l.Bucket, profileID, modelID)
}

// LogLocation returns where a job's process log is archived.
func (l Layout) LogLocation(profileID, modelID string, kind workflow.JobKind, jobName string, logType LogType, at time.Time) string {
	return fmt.Sprintf("%slogs/%s/%s-%s-%s.log",
		l.ModelRoot(profileID, modelID), kind.Lower(), at.UTC().Format(timestampLayout), jobName, logType)
}

// MetricsLocation returns where a job's raw evaluation metrics are written.
func (l Layout) MetricsLocation(profileID, modelID string, kind workflow.JobKind, jobName string, at time.Time) string {
	return fmt.Sprintf("%smetrics/%s/%s-%s.json",
		l.ModelRoot(profileID, modelID), kind.Lower(), at.UTC().Format(timestampLayout), jobName)
}

// PrimaryVideoLocation returns the main camera recording for a job.
func (l Layout) PrimaryVideoLocation(profileID, modelID string, kind workflow.JobKind, jobName string, at time.Time) string {
	return fmt.Sprintf("%svideos/%s/%s-%s/camera-pip/0-video.mp4",
		l.ModelRoot(profileID, modelID), kind.Lower(), at.UTC().Format(timestampLayout), jobName)
}
