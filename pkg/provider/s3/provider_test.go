package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/trackside/pkg/provider"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

// fakeS3 keeps objects in memory keyed by bucket/key.
type fakeS3 struct {
	objects map[string][]byte
	puts    []*s3.PutObjectInput
	err     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body))), ETag: aws.String(`"etag"`)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body)), ContentLength: aws.Int64(int64(len(body)))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	require.Error(t, err)
	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "s3 config: Bucket: bucket name is required", err.Error())

	cfg = Config{Bucket: "models", Endpoint: "http://localhost:9000", ForcePathStyle: true}
	assert.NoError(t, cfg.Validate())
}

func TestNew_ValidationError(t *testing.T) {
	_, err := New(aws.Config{}, Config{})
	require.Error(t, err)
	var configErr *ConfigError
	assert.True(t, errors.As(err, &configErr))
}

func TestProvider_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	p := NewWithClient(api, "models")
	assert.Equal(t, "models", p.Bucket())

	body := "line one\nline two\n"
	require.NoError(t, p.PutObject(ctx, "p1/models/m1/logs/training/x.log", strings.NewReader(body), int64(len(body))))
	require.Len(t, api.puts, 1)
	assert.Equal(t, "text/plain; charset=utf-8", aws.ToString(api.puts[0].ContentType))
	assert.Equal(t, int64(len(body)), aws.ToInt64(api.puts[0].ContentLength))

	rc, n, err := p.GetObject(ctx, "p1/models/m1/logs/training/x.log")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	assert.Equal(t, int64(len(body)), n)

	meta, err := p.Head(ctx, "p1/models/m1/logs/training/x.log")
	require.NoError(t, err)
	assert.Equal(t, "etag", meta.ETag)
	assert.Equal(t, int64(len(body)), meta.Size)
}

func TestProvider_MissingObject(t *testing.T) {
	ctx := context.Background()
	p := NewWithClient(newFakeS3(), "models")

	_, _, err := p.GetObject(ctx, "nope.json")
	assert.True(t, provider.IsNotFound(err))

	_, err = p.Head(ctx, "nope.json")
	assert.True(t, provider.IsNotFound(err))

	var provErr *provider.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "Head", provErr.Op)
	assert.Equal(t, "models", provErr.Bucket)
	assert.Equal(t, "nope.json", provErr.Key)
}

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *provider.ProviderError
		expected string
	}{
		{
			name:     "with key",
			err:      &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderS3, Bucket: "models", Key: "a/b.json", Err: provider.ErrNotFound},
			expected: "s3 GetObject: models/a/b.json: object not found",
		},
		{
			name:     "without key",
			err:      &provider.ProviderError{Op: "PutObject", Provider: provider.ProviderS3, Bucket: "models", Err: provider.ErrAccessDenied},
			expected: "s3 PutObject: models: access denied",
		},
		{
			name:     "without bucket",
			err:      &provider.ProviderError{Op: "New", Provider: provider.ProviderS3, Err: errors.New("failed to load config")},
			expected: "s3 New: failed to load config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestWrapError_TypedErrors(t *testing.T) {
	p := &Provider{bucket: "models"}

	assert.True(t, errors.Is(p.wrapError("Head", "k", &types.NotFound{}), provider.ErrNotFound))
	assert.True(t, errors.Is(p.wrapError("GetObject", "k", &types.NoSuchKey{}), provider.ErrNotFound))
	assert.True(t, errors.Is(p.wrapError("PutObject", "k", &types.NoSuchBucket{}), provider.ErrBucketNotFound))
}

func TestWrapError_APIError(t *testing.T) {
	p := &Provider{bucket: "models"}

	tests := []struct {
		code     string
		expected error
	}{
		{"NoSuchKey", provider.ErrNotFound},
		{"NotFound", provider.ErrNotFound},
		{"NoSuchBucket", provider.ErrBucketNotFound},
		{"AccessDenied", provider.ErrAccessDenied},
		{"Forbidden", provider.ErrAccessDenied},
		{"InvalidAccessKeyId", provider.ErrInvalidCredentials},
		{"SignatureDoesNotMatch", provider.ErrInvalidCredentials},
		{"SlowDown", provider.ErrThrottled},
		{"Throttling", provider.ErrThrottled},
		{"RequestLimitExceeded", provider.ErrThrottled},
		{"ServiceUnavailable", provider.ErrProviderUnavailable},
		{"InternalError", provider.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := p.wrapError("GetObject", "key", &mockAPIError{code: tt.code, message: "test message"})
			assert.True(t, errors.Is(err, tt.expected), "expected %v for code %s", tt.expected, tt.code)
		})
	}
}

func TestWrapError_UnknownCodeKeepsCause(t *testing.T) {
	p := &Provider{bucket: "models"}
	cause := &mockAPIError{code: "Teapot", message: "short and stout"}
	err := p.wrapError("PutObject", "key", cause)
	assert.ErrorIs(t, err, cause)
	assert.False(t, provider.IsNotFound(err))
}

func TestCleanETag(t *testing.T) {
	assert.Equal(t, "abc", cleanETag(`"abc"`))
	assert.Equal(t, "abc", cleanETag("abc"))
	assert.Equal(t, "", cleanETag(`""`))
}
