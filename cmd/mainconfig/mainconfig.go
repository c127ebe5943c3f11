package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/clinic-booking-engine/internal/config"
	"github.com/wolfman30/clinic-booking-engine/internal/crm"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

// LoadAWSConfig centralizes AWS SDK initialization so every binary shares the
// same LocalStack/production wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}

	if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				if service == sqs.ServiceID {
					return aws.Endpoint{
						URL:           endpoint,
						PartitionID:   "aws",
						SigningRegion: cfg.AWSRegion,
					}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			},
		)
	}

	return awsCfg, nil
}

// NewLogger builds the process logger, with file rotation when LOG_FILE is set.
func NewLogger(cfg *appconfig.Config) *logging.Logger {
	return logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
}

// BuildCRMQueue returns the transport for CRM jobs selected by CRM_QUEUE.
// The bool reports whether jobs are consumed in-process.
func BuildCRMQueue(ctx context.Context, cfg *appconfig.Config) (crm.Queue, bool, error) {
	switch cfg.CRMQueue {
	case "", "memory":
		return crm.NewMemoryQueue(cfg.CRMQueueSize), true, nil
	case "sqs":
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, false, fmt.Errorf("mainconfig: load aws config: %w", err)
		}
		queue, err := crm.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.CRMQueueURL)
		if err != nil {
			return nil, false, err
		}
		return queue, false, nil
	case "none", "off":
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("mainconfig: unknown CRM_QUEUE %q", cfg.CRMQueue)
	}
}
