package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/pkg/config"
)

// Message is one rendered email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SESAPI is the subset of the SES client used for delivery.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// New builds a mailer for the configured provider. Unknown providers fall back to noop.
func New(cfg config.NotifyConfig, logger *zap.Logger) (Mailer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case config.NotifyProviderSES:
		if cfg.FromAddress == "" {
			return nil, fmt.Errorf("ses mailer: from address is required")
		}
		awsCfg := aws.Config{Region: cfg.Region}
		if cfg.AccessKeyID != "" {
			awsCfg.Credentials = aws.NewCredentialsCache(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			)
		}
		client := ses.NewFromConfig(awsCfg, func(o *ses.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
		return NewSESMailer(client, cfg.FromAddress, cfg.FromName, logger), nil
	case config.NotifyProviderNoop, "":
		return NewNoopMailer(logger), nil
	default:
		logger.Warn("unknown mail provider, using noop", zap.String("provider", cfg.Provider))
		return NewNoopMailer(logger), nil
	}
}

// SESMailer sends through Amazon SES.
type SESMailer struct {
	client SESAPI
	source string
	logger *zap.Logger
}

// NewSESMailer wraps an SES client.
func NewSESMailer(client SESAPI, fromAddress, fromName string, logger *zap.Logger) *SESMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	source := fromAddress
	if fromName != "" {
		source = fmt.Sprintf("%s <%s>", fromName, fromAddress)
	}
	return &SESMailer{client: client, source: source, logger: logger}
}

func (m *SESMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("ses mailer: no recipients")
	}
	input := &ses.SendEmailInput{
		Source:      aws.String(m.source),
		Destination: &types.Destination{ToAddresses: msg.To},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    &types.Body{},
		},
	}
	if msg.HTML != "" {
		input.Message.Body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		input.Message.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("send email via ses: %w", err)
	}
	m.logger.Debug("email sent", zap.String("message_id", aws.ToString(out.MessageId)), zap.String("subject", msg.Subject))
	return nil
}

// NoopMailer logs messages instead of sending them.
type NoopMailer struct {
	logger *zap.Logger
}

func NewNoopMailer(logger *zap.Logger) *NoopMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopMailer{logger: logger}
}

func (m *NoopMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email suppressed", zap.Strings("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}
