package mail

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport sends mail through Amazon SES v2. Credentials come from the default AWS chain.
type SESTransport struct {
	client sesAPI
	from   string
}

func NewSESTransport(ctx context.Context, region, from string) (*SESTransport, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return &SESTransport{client: sesv2.NewFromConfig(cfg), from: from}, nil
}

var retryableSESCodes = map[string]bool{
	"TooManyRequestsException": true,
	"LimitExceededException":   true,
	"ThrottlingException":      true,
	"Throttling":               true,
	"ServiceUnavailable":       true,
	"InternalFailure":          true,
}

func (t *SESTransport) Deliver(ctx context.Context, to, subject, body string) error {
	if err := validateHeaders(to, subject); err != nil {
		return err
	}

	_, err := t.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(t.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err == nil {
		return nil
	}

	wrapped := errors.Wrap(err, "ses send")
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if retryableSESCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return Temporary(wrapped)
		}
	}
	return wrapped
}
