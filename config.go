package dynaorm

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-playground/validator/v10"
)

// Config describes how to reach DynamoDB. Empty fields fall back to the
// default AWS configuration chain.
type Config struct {
	Region          string
	Endpoint        string `validate:"omitempty,url"` // e.g. DynamoDB Local
	AccessKeyID     string `validate:"required_with=SecretAccessKey"`
	SecretAccessKey string `validate:"required_with=AccessKeyID"`
	Profile         string `validate:"omitempty,excluded_with=AccessKeyID"`
}

// ConfigFromEnv reads the configuration from the environment. DYNAORM_REGION,
// DYNAORM_ENDPOINT, DYNAORM_ACCESS_KEY_ID, DYNAORM_SECRET_ACCESS_KEY and
// DYNAORM_PROFILE take precedence over region, endpoint, accessKeyId and
// secretAccessKey.
func ConfigFromEnv() Config {
	return Config{
		Region:          env("DYNAORM_REGION", "region"),
		Endpoint:        env("DYNAORM_ENDPOINT", "endpoint"),
		AccessKeyID:     env("DYNAORM_ACCESS_KEY_ID", "accessKeyId"),
		SecretAccessKey: env("DYNAORM_SECRET_ACCESS_KEY", "secretAccessKey"),
		Profile:         env("DYNAORM_PROFILE"),
	}
}

func env(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the configuration for inconsistent fields.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// AWSConfig loads an aws.Config honouring the region, profile and static
// credentials of c.
func (c Config) AWSConfig(ctx context.Context) (aws.Config, error) {
	if err := c.Validate(); err != nil {
		return aws.Config{}, err
	}

	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

// NewClient creates a dynamodb client from c.
func (c Config) NewClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := c.AWSConfig(ctx)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}

// Connect creates a DB with a dynamodb client built from cfg.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*DB, error) {
	client, err := cfg.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return New(client, opts...)
}
