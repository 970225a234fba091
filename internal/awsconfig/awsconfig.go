// Package awsconfig builds the aws.Config shared by every AWS-backed client
// (object storage, training jobs, video streams, log streams).
package awsconfig

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// DefaultRegion is used when neither configuration, environment, profile,
// nor instance metadata yields a region.
const DefaultRegion = "us-east-1"

// imdsTimeout bounds the instance metadata lookup; off-instance it never answers.
const imdsTimeout = 2 * time.Second

// Options selects how credentials and region are resolved.
//
// Credentials follow the SDK default chain unless AccessKeyID and
// SecretAccessKey are both set.
type Options struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Endpoint overrides the service endpoint for local stacks. When set, no
	// default region is applied.
	Endpoint string

	// IMDSRegion enables the EC2 instance metadata region lookup when the
	// SDK chain resolves no region.
	IMDSRegion bool
}

// Validate checks that explicit credentials are provided together.
func (o Options) Validate() error {
	if (o.AccessKeyID != "") != (o.SecretAccessKey != "") {
		return errors.New("aws: access key id and secret access key must be provided together")
	}
	return nil
}

// regionLookup is swapped in tests.
var regionLookup = lookupIMDSRegion

// Load resolves an aws.Config from opts.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	if err := opts.Validate(); err != nil {
		return aws.Config{}, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(opts.Endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if cfg.Region == "" && opts.IMDSRegion && opts.Endpoint == "" {
		cfg.Region = regionLookup(ctx, cfg)
	}
	cfg.Region = resolveRegion(opts.Endpoint, cfg.Region)
	return cfg, nil
}

func lookupIMDSRegion(ctx context.Context, cfg aws.Config) string {
	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()

	out, err := imds.NewFromConfig(cfg).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return ""
	}
	return out.Region
}

// resolveRegion applies the fallback default. Custom endpoints get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultRegion
	}
	return ""
}
