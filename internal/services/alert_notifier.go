package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client used for alert mail
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AlertMailConfig configures finding alert mail
type AlertMailConfig struct {
	Region      string
	From        string
	To          []string
	MinSeverity string
}

// SESAlertNotifier mails findings at or above a severity threshold
type SESAlertNotifier struct {
	client      SESAPI
	from        string
	to          []string
	minSeverity string
	logger      *slog.Logger
}

// NewSESAlertNotifier creates a notifier using the default AWS credential chain
func NewSESAlertNotifier(ctx context.Context, cfg AlertMailConfig, logger *slog.Logger) (*SESAlertNotifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESAlertNotifierWithClient(ses.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewSESAlertNotifierWithClient creates a notifier around an existing client
func NewSESAlertNotifierWithClient(client SESAPI, cfg AlertMailConfig, logger *slog.Logger) *SESAlertNotifier {
	minSeverity := strings.ToLower(cfg.MinSeverity)
	if !models.ValidSeverity(minSeverity) {
		minSeverity = models.SeverityHigh
	}
	return &SESAlertNotifier{
		client:      client,
		from:        cfg.From,
		to:          cfg.To,
		minSeverity: minSeverity,
		logger:      logger,
	}
}

// Notify sends one alert mail. Findings below the threshold are ignored.
func (n *SESAlertNotifier) Notify(ctx context.Context, finding *models.Finding) error {
	if !models.SeverityAtLeast(finding.Severity, n.minSeverity) || len(n.to) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[warden] %s finding: %s", strings.ToUpper(finding.Severity), finding.Title)

	textBody := fmt.Sprintf(`A new finding needs review.

Title:       %s
Severity:    %s
Category:    %s
Subject:     %s (%s)
Occurrences: %d

%s

Suggested action:
%s

Finding ID: %s
`, finding.Title, finding.Severity, finding.Category, finding.SubjectID, finding.SubjectKind,
		finding.Occurrences, finding.Description, finding.SuggestedAction, finding.ID)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h2>%s</h2>
    <p><strong>Severity:</strong> %s<br>
    <strong>Category:</strong> %s<br>
    <strong>Subject:</strong> <code>%s</code> (%s)<br>
    <strong>Occurrences:</strong> %d</p>
    <p>%s</p>
    <h3>Suggested action</h3>
    <p>%s</p>
    <p style="color: #666; font-size: 12px;">Finding ID %s</p>
</body>
</html>
`, html.EscapeString(finding.Title), html.EscapeString(finding.Severity), html.EscapeString(finding.Category),
		html.EscapeString(finding.SubjectID), html.EscapeString(finding.SubjectKind), finding.Occurrences,
		html.EscapeString(finding.Description), html.EscapeString(finding.SuggestedAction), finding.ID)

	input := &ses.SendEmailInput{
		Source: aws.String(n.from),
		Destination: &types.Destination{
			ToAddresses: n.to,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	n.logger.Info("finding alert sent",
		slog.String("finding_id", finding.ID.String()),
		slog.String("severity", finding.Severity),
		slog.String("message_id", messageID))
	return nil
}
