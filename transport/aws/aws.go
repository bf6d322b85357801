// Package aws provides an AWS SNS/SQS transport. Connection strings name
// the region as host and carry the rest as query parameters:
//
//	aws://us-east-1?account=123456789012
//	aws://us-east-1?endpoint=http://localhost:4566&accessKey=test&secretKey=test
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/contractflow/transport"
	"github.com/drblury/contractflow/transport/pubsub"
)

// Scheme is the connection string scheme served by this package.
const Scheme = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
	maxQueueNameLength  = 80
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	Register()
}

// Register adds the AWS transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(Scheme, pubsub.Factory(Scheme, Dial, transport.AWSCapabilities), transport.AWSCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

// Settings are the AWS parameters read from a connection string.
type Settings struct {
	Region          string
	AccountID       string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// ParseSettings reads Settings from ep's URL.
func ParseSettings(u *url.URL) Settings {
	q := u.Query()
	return Settings{
		Region:          u.Host,
		AccountID:       strings.Trim(q.Get("account"), "\"' "),
		Endpoint:        q.Get("endpoint"),
		AccessKeyID:     q.Get("accessKey"),
		SecretAccessKey: q.Get("secretKey"),
	}
}

// Dial loads the AWS config once for the peer's publisher and subscribers.
func Dial(ctx context.Context, ep transport.Endpoint) (pubsub.Dialer, error) {
	logger := ep.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	settings := ParseSettings(ep.URL)

	awsCfg, err := createAWSConfig(ctx, settings, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Created AWS config", watermill.LogFields{
		"region":          safeAWSRegion(awsCfg),
		"custom_endpoint": settings.Endpoint != "",
	})

	accountID, region := resolveAccountAndRegion(settings, logger, safeAWSRegion(awsCfg))
	topicResolver, err := createTopicResolver(accountID, region, logger)
	if err != nil {
		return nil, err
	}

	return &dialer{
		settings: settings,
		awsCfg:   awsCfg,
		resolver: topicResolver,
		peerID:   ep.PeerID,
		logger:   logger,
	}, nil
}

type dialer struct {
	settings Settings
	awsCfg   *aws.Config
	resolver sns.TopicResolver
	peerID   string
	logger   watermill.LoggerAdapter
}

func (d *dialer) Publisher(context.Context) (message.Publisher, error) {
	publisherConfig, err := buildPublisherConfig(d.settings, d.awsCfg, d.resolver)
	if err != nil {
		d.logger.Error("Failed to parse AWS endpoint", err, watermill.LogFields{"endpoint": d.settings.Endpoint})
		return nil, err
	}
	return PublisherFactory(publisherConfig, d.logger)
}

func (d *dialer) Subscriber(_ context.Context, queue string) (message.Subscriber, error) {
	snsOpts, sqsOpts, err := endpointOptions(d.settings)
	if err != nil {
		return nil, err
	}

	suffix := queue
	if suffix == "" {
		suffix = d.peerID
	}
	subscriberConfig := sns.SubscriberConfig{
		AWSConfig:            *d.awsCfg,
		OptFns:               snsOpts,
		TopicResolver:        d.resolver,
		GenerateSqsQueueName: makeSqsQueueNameGenerator(suffix),
	}

	return SubscriberFactory(
		subscriberConfig,
		sqs.SubscriberConfig{
			AWSConfig: *d.awsCfg,
			OptFns:    sqsOpts,
		},
		d.logger,
	)
}

func createAWSConfig(ctx context.Context, settings Settings, logger watermill.LoggerAdapter) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if settings.Region != "" {
		logger.Info("Setting AWS region from connection string", watermill.LogFields{"region": settings.Region})
		opts = append(opts, awsconfig.WithRegion(settings.Region))
	}
	if settings.AccessKeyID != "" && settings.SecretAccessKey != "" {
		logger.Info("Using static AWS credentials from connection string", watermill.LogFields{})
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKeyID, settings.SecretAccessKey, ""),
		))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		fields := watermill.LogFields{}
		if settings.Region != "" {
			fields["requested_region"] = settings.Region
		}
		logger.Error("Failed to load AWS default config", err, fields)
		return nil, err
	}

	// The loader may ignore WithRegion when a profile overrides it.
	if settings.Region != "" {
		awsCfg.Region = settings.Region
	}
	if settings.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(settings.Endpoint)
	}

	return &awsCfg, nil
}

// QueueName derives the SQS queue for topic and suffix, trimmed to the SQS
// length limit.
func QueueName(topic, suffix string) string {
	name := topic + "-" + pubsub.Sanitize(suffix)
	if len(name) > maxQueueNameLength {
		name = name[:maxQueueNameLength]
	}
	return name
}

func makeSqsQueueNameGenerator(suffix string) func(context.Context, sns.TopicArn) (string, error) {
	return func(ctx context.Context, snsTopic sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(snsTopic)
		if err != nil {
			return "", err
		}
		return QueueName(string(topic), suffix), nil
	}
}

func endpointOptions(settings Settings) ([]func(*amazonsns.Options), []func(*amazonsqs.Options), error) {
	if settings.Endpoint == "" {
		return nil, nil, nil
	}
	parsedURL, err := url.Parse(settings.Endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}
	snsOpts := []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsedURL},
		}),
	}
	sqsOpts := []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsedURL},
		}),
	}
	return snsOpts, sqsOpts, nil
}

func resolveAccountAndRegion(settings Settings, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	accountID := settings.AccountID
	region := settings.Region
	if region == "" {
		region = fallbackRegion
	}

	if accountID == "" && settings.Endpoint != "" {
		accountID = localstackAccountID
		logger.Info("AWS account ID empty; using LocalStack default", watermill.LogFields{"accountID": accountID})
		return accountID, region
	}

	if accountID != "" && len(accountID) != awsAccountIDLength && settings.Endpoint != "" {
		logger.Info("Invalid AWS account ID; falling back to LocalStack default", watermill.LogFields{"accountID": accountID})
		accountID = localstackAccountID
	}

	return accountID, region
}

func createTopicResolver(accountID, region string, logger watermill.LoggerAdapter) (sns.TopicResolver, error) {
	topicResolver, err := TopicResolverFactory(accountID, region)
	if err != nil {
		logger.Error("Failed to create SNS topic resolver", err, watermill.LogFields{
			"accountID": accountID,
			"region":    region,
		})
		return nil, err
	}
	return topicResolver, nil
}

func buildPublisherConfig(settings Settings, awsCfg *aws.Config, topicResolver sns.TopicResolver) (sns.PublisherConfig, error) {
	publisherConfig := sns.PublisherConfig{
		TopicResolver: topicResolver,
		AWSConfig:     *awsCfg,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}

	if settings.Endpoint != "" {
		endpoint, err := url.Parse(settings.Endpoint)
		if err != nil {
			return sns.PublisherConfig{}, fmt.Errorf("failed to parse AWS endpoint: %w", err)
		}
		endpointStr := endpoint.String()
		publisherConfig.OptFns = []func(*amazonsns.Options){
			func(o *amazonsns.Options) {
				o.BaseEndpoint = aws.String(endpointStr)
			},
		}
	}

	return publisherConfig, nil
}

func safeAWSRegion(cfg *aws.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.Region
}
