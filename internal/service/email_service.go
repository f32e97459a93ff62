package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"kidvoice/internal/logger"
	"kidvoice/internal/models"
)

// sesAPI is the part of the SES client used for sending
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailService handles sending parent emails via Amazon SES
type EmailService struct {
	client    sesAPI
	fromEmail string
	fromName  string
	enabled   bool
	logger    *zap.Logger
}

// NewEmailService creates a new email service. An empty fromEmail yields a
// disabled service whose sends are no-ops.
func NewEmailService(ctx context.Context, awsRegion, fromEmail, fromName string, l *zap.Logger) (*EmailService, error) {
	log := logger.OrNop(l).Named("email")

	if fromEmail == "" {
		log.Info("email service disabled: SES_FROM_EMAIL not configured")
		return &EmailService{logger: log}, nil
	}

	log.Debug("initializing email service",
		zap.String("region", awsRegion),
		zap.String("from_email", fromEmail),
		zap.String("from_name", fromName))

	// Load AWS configuration
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(awsRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("email service enabled", zap.String("from", fromEmail), zap.String("region", awsRegion))

	return &EmailService{
		client:    sesv2.NewFromConfig(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
		enabled:   true,
		logger:    log,
	}, nil
}

// IsEnabled returns whether the email service is enabled
func (s *EmailService) IsEnabled() bool {
	return s.enabled
}

// SendSessionSummary emails a filtered session summary to a parent
func (s *EmailService) SendSessionSummary(ctx context.Context, toEmail, childName string, summary *models.SessionSummary) error {
	if !s.enabled {
		s.logger.Debug("skipping email send (service disabled)", zap.String("kind", "session_summary"))
		return nil
	}

	if childName == "" {
		childName = "your child"
	}
	subject := fmt.Sprintf("Today's learning conversation with %s", childName)
	return s.sendEmail(ctx, toEmail, subject, summaryHTML(childName, summary), summaryText(childName, summary))
}

func summaryText(childName string, summary *models.SessionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is a short reflection on today's session with %s.\n\n", childName)
	if len(summary.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(summary.Topics, ", "))
	}
	if len(summary.VocabularyHighlights) > 0 {
		fmt.Fprintf(&b, "Words worth celebrating: %s\n", strings.Join(summary.VocabularyHighlights, ", "))
	}
	if summary.ThinkingQuestion != "" {
		fmt.Fprintf(&b, "\nA question to ask together: %s\n", summary.ThinkingQuestion)
	}
	if summary.ParentNotes != "" {
		fmt.Fprintf(&b, "\n%s\n", summary.ParentNotes)
	}
	return b.String()
}

func summaryHTML(childName string, summary *models.SessionSummary) string {
	esc := func(items []string) string {
		out := make([]string, len(items))
		for i, item := range items {
			out[i] = html.EscapeString(item)
		}
		return strings.Join(out, ", ")
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>
		body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.header { background-color: #4a90e2; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
		.content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
		.question { font-size: 18px; font-style: italic; margin: 20px 0; }
		.footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
	</style>
</head>
<body>
	<div class="container">
		<div class="header">
			<h1>Session Reflection</h1>
		</div>
		<div class="content">
`)
	fmt.Fprintf(&b, "\t\t\t<p>Here is a short reflection on today's session with %s.</p>\n", html.EscapeString(childName))
	if len(summary.Topics) > 0 {
		fmt.Fprintf(&b, "\t\t\t<p><strong>Topics:</strong> %s</p>\n", esc(summary.Topics))
	}
	if len(summary.VocabularyHighlights) > 0 {
		fmt.Fprintf(&b, "\t\t\t<p><strong>Words worth celebrating:</strong> %s</p>\n", esc(summary.VocabularyHighlights))
	}
	if summary.ThinkingQuestion != "" {
		fmt.Fprintf(&b, "\t\t\t<p>A question to ask together:</p>\n\t\t\t<p class=\"question\">%s</p>\n", html.EscapeString(summary.ThinkingQuestion))
	}
	if summary.ParentNotes != "" {
		fmt.Fprintf(&b, "\t\t\t<p>%s</p>\n", html.EscapeString(summary.ParentNotes))
	}
	b.WriteString(`		</div>
		<div class="footer">
			<p>This is an automated email. Please do not reply.</p>
		</div>
	</div>
</body>
</html>
`)
	return b.String()
}

// sendEmail sends an email using Amazon SES
func (s *EmailService) sendEmail(ctx context.Context, toEmail, subject, htmlBody, textBody string) error {
	fromAddress := s.fromEmail
	if s.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(htmlBody),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(textBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", toEmail, err)
	}

	s.logger.Info("email sent", zap.String("subject", subject), zap.Stringp("message_id", result.MessageId))
	return nil
}
