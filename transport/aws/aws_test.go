package aws

import (
	"context"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/contractflow/transport"
)

type mockPublisher struct{}

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                              { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}
func (m *mockSubscriber) Close() error { return nil }

func endpoint(t *testing.T, raw string) transport.Endpoint {
	t.Helper()
	u, err := transport.ParseConnectionString(raw)
	require.NoError(t, err)
	return transport.Endpoint{ConnectionString: raw, URL: u, PeerID: "peer-1", Logger: watermill.NopLogger{}}
}

func stubFactories(t *testing.T) {
	t.Helper()
	originalConfigLoader := DefaultConfigLoader
	originalTopicResolver := TopicResolverFactory
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader = originalConfigLoader
		TopicResolverFactory = originalTopicResolver
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	})

	DefaultConfigLoader = func(_ context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, opt := range opts {
			require.NoError(t, opt(&lo))
		}
		cfg := aws.Config{Region: lo.Region}
		if lo.Credentials != nil {
			cfg.Credentials = lo.Credentials
		}
		return cfg, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		return sns.NewGenerateArnTopicResolver(accountID, region)
	}
	PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return &mockPublisher{}, nil
	}
	SubscriberFactory = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return &mockSubscriber{}, nil
	}
}

func TestRegister(t *testing.T) {
	caps := transport.GetCapabilities(Scheme)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.Durable)
	assert.EqualValues(t, 262144, caps.MaxMessageSize)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.AWSCapabilities, Capabilities())
}

func TestParseSettings(t *testing.T) {
	ep := endpoint(t, "aws://eu-west-1?account='123456789012'&endpoint=http://localhost:4566&accessKey=ak&secretKey=sk")
	s := ParseSettings(ep.URL)
	assert.Equal(t, Settings{
		Region:          "eu-west-1",
		AccountID:       "123456789012",
		Endpoint:        "http://localhost:4566",
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
	}, s)
}

func TestResolveAccountAndRegion(t *testing.T) {
	logger := watermill.NopLogger{}

	account, region := resolveAccountAndRegion(Settings{Endpoint: "http://localhost:4566"}, logger, "us-east-1")
	assert.Equal(t, localstackAccountID, account)
	assert.Equal(t, "us-east-1", region)

	account, _ = resolveAccountAndRegion(Settings{AccountID: "42", Endpoint: "http://localhost:4566"}, logger, "")
	assert.Equal(t, localstackAccountID, account, "malformed ids fall back under localstack")

	account, region = resolveAccountAndRegion(Settings{AccountID: "123456789012", Region: "eu-west-1"}, logger, "us-east-1")
	assert.Equal(t, "123456789012", account)
	assert.Equal(t, "eu-west-1", region)
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "contractflow_events-peer-1", QueueName("contractflow_events", "peer-1"))
	long := QueueName(strings.Repeat("t", 100), "x")
	assert.Len(t, long, maxQueueNameLength)
}

func TestDial(t *testing.T) {
	stubFactories(t)

	var queueNames []string
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		arn, err := cfg.TopicResolver.ResolveTopic(context.Background(), "contractflow_events")
		require.NoError(t, err)
		name, err := cfg.GenerateSqsQueueName(context.Background(), arn)
		require.NoError(t, err)
		queueNames = append(queueNames, name)
		assert.NotEmpty(t, cfg.OptFns, "custom endpoint configures the SNS client")
		assert.NotEmpty(t, sqsCfg.OptFns, "custom endpoint configures the SQS client")
		return &mockSubscriber{}, nil
	}

	d, err := Dial(context.Background(), endpoint(t, "aws://us-east-1?endpoint=http://localhost:4566&accessKey=test&secretKey=test"))
	require.NoError(t, err)

	inner := d.(*dialer)
	assert.Equal(t, "us-east-1", inner.awsCfg.Region)
	require.NotNil(t, inner.awsCfg.BaseEndpoint)
	creds, err := inner.awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	_, err = d.Publisher(context.Background())
	require.NoError(t, err)
	_, err = d.Subscriber(context.Background(), "")
	require.NoError(t, err)
	_, err = d.Subscriber(context.Background(), "servers")
	require.NoError(t, err)

	assert.Equal(t, []string{"contractflow_events-peer-1", "contractflow_events-servers"}, queueNames)
}

func TestDial_ConfigError(t *testing.T) {
	stubFactories(t)
	DefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, assert.AnError
	}

	_, err := Dial(context.Background(), endpoint(t, "aws://us-east-1"))
	assert.ErrorIs(t, err, assert.AnError)
}
