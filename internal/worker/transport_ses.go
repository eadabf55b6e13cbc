package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/lumenpress/courier/internal/pkg/logger"
)

// SESTransport sends mail through AWS SES using the SDK v2.
type SESTransport struct {
	region string
	client *sesv2.Client
}

// NewSESTransport builds an SES transport. Static credentials take
// precedence; with empty keys the default AWS credential chain is used.
func NewSESTransport(accessKey, secretKey, region string) (*SESTransport, error) {
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &SESTransport{
		region: region,
		client: sesv2.NewFromConfig(cfg),
	}, nil
}

func (s *SESTransport) Name() string { return "ses" }

// Send delivers a single email through SES and classifies failures for the
// dispatcher's retry logic.
func (s *SESTransport) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("recipient_id"), Value: aws.String(msg.RecipientID)},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		log.Printf("[SES] send to %s failed: %v", logger.RedactEmail(msg.Email), err)
		return nil, classifySESError(err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	return &SendResult{MessageID: messageID, SentAt: time.Now().UTC()}, nil
}

// classifySESError maps SES API errors onto the transient/permanent split.
// Anything unrecognized is treated as transient.
func classifySESError(err error) error {
	var (
		rejected  *types.MessageRejected
		badReq    *types.BadRequestException
		notFound  *types.NotFoundException
		suspended *types.AccountSuspendedException
		mailFrom  *types.MailFromDomainNotVerifiedException
		throttled *types.TooManyRequestsException
		limit     *types.LimitExceededException
		paused    *types.SendingPausedException
	)
	switch {
	case errors.As(err, &rejected), errors.As(err, &badReq), errors.As(err, &notFound),
		errors.As(err, &suspended), errors.As(err, &mailFrom):
		return Permanent(err)
	case errors.As(err, &throttled), errors.As(err, &limit), errors.As(err, &paused):
		return Transient(err)
	default:
		return Transient(err)
	}
}
