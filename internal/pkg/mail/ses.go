package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

// SESConfig configures the SES v2 provider.
type SESConfig struct {
	// Region is the AWS region.
	Region string
	// AccessKey is the static access key ID.
	AccessKey string
	// SecretKey is the static secret access key.
	SecretKey string
	// From is the default sender when Message.From is empty.
	From string
}

// SendEmailAPI is the subset of the SES v2 client used by the provider.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES is a Provider implementation backed by the AWS SES v2 API.
type SES struct {
	client      SendEmailAPI
	defaultFrom string
}

// NewSES constructs an SES v2 provider.
func NewSES(ctx context.Context, cfg SESConfig) (*SES, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SES{
		client:      sesv2.NewFromConfig(awsCfg),
		defaultFrom: cfg.From,
	}, nil
}

// NewSESWithClient wraps an existing SES client, used for testing.
func NewSESWithClient(client SendEmailAPI, defaultFrom string) *SES {
	return &SES{client: client, defaultFrom: defaultFrom}
}

// Send delivers the raw MIME message through the SES v2 API.
func (s *SES) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	from := msg.From
	if from == "" {
		from = s.defaultFrom
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: msg.Raw},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return SendResult{}, classifySESError(err)
	}

	return SendResult{ProviderMessageID: aws.ToString(out.MessageId)}, nil
}

// Close implements io.Closer for interface compatibility.
func (s *SES) Close() error {
	return nil
}

func classifySESError(err error) error {
	var tooMany *types.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return goerror.NewTransient(err, "ses throttled")
	}

	var sendingPaused *types.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return goerror.NewTransient(err, "ses account sending paused")
	}

	var limitExceeded *types.LimitExceededException
	if errors.As(err, &limitExceeded) {
		return goerror.NewTransient(err, "ses limit exceeded")
	}

	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return goerror.NewPermanent(err, "ses resource not found")
	}

	var badRequest *types.BadRequestException
	if errors.As(err, &badRequest) {
		return goerror.NewPermanent(err, "ses rejected message")
	}

	var mailFromDomain *types.MailFromDomainNotVerifiedException
	if errors.As(err, &mailFromDomain) {
		return goerror.NewPermanent(err, "ses sender domain not verified")
	}

	var accountSuspended *types.AccountSuspendedException
	if errors.As(err, &accountSuspended) {
		return goerror.NewPermanent(err, "ses account suspended")
	}

	return goerror.NewTransient(err, "ses request failed")
}
