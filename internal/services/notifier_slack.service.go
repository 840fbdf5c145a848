package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// Notifier is the outbound channel contract of the incident manager. A
// failed Notify is logged by the caller and never rolls back the incident.
type Notifier interface {
	Notify(ctx context.Context, incident *models.Incident) error
	Channel() string
}

var severityEmoji = map[models.Severity]string{
	models.SeverityP1: ":red_circle:",
	models.SeverityP2: ":large_orange_circle:",
	models.SeverityP3: ":large_yellow_circle:",
	models.SeverityP4: ":white_circle:",
}

// slackAPI is the slice of *slack.Client the notifier uses.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts rich Block Kit incident messages to a single channel.
// Chat is the always-on channel: every created incident lands here.
type SlackNotifier struct {
	client  slackAPI
	channel string
	logger  logger.Logger
}

func NewSlackNotifier(cfg config.SlackConfig, log logger.Logger) (*SlackNotifier, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack bot token is required (set SLACK_BOT_TOKEN)")
	}
	return &SlackNotifier{
		client:  slack.New(cfg.BotToken),
		channel: cfg.Channel,
		logger:  log,
	}, nil
}

func (n *SlackNotifier) Channel() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, incident *models.Incident) error {
	fallback := fmt.Sprintf("[%s] %s", incident.Severity, incident.Title)

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(buildIncidentBlocks(incident)...),
	)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("slack", "false").Inc()
		return fmt.Errorf("slack notification failed: %w", err)
	}

	metrics.NotificationsSent.WithLabelValues("slack", "true").Inc()
	n.logger.Info("slack notification sent", "incident_id", incident.ID, "channel", n.channel)
	return nil
}

// buildIncidentBlocks renders the incident as Block Kit: header, id/severity
// fields, per-anomaly sections (first 5), analysis with remediation steps,
// and up to 3 related runbook titles.
func buildIncidentBlocks(incident *models.Incident) []slack.Block {
	emoji, ok := severityEmoji[incident.Severity]
	if !ok {
		emoji = ":grey_question:"
	}
	services := strings.Join(incident.Services, ", ")

	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
		fmt.Sprintf("%s %s Incident: %s", emoji, incident.Severity, incident.Title), true, false))

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Incident ID:*\n`%s`", incident.ID), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Severity:*\n%s", incident.Severity), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Services:*\n%s", services), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Detected at:*\n%s",
			incident.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")), false, false),
	}

	blocks := []slack.Block{
		header,
		slack.NewSectionBlock(nil, fields, nil),
		slack.NewDividerBlock(),
	}

	limit := len(incident.Anomalies)
	if limit > 5 {
		limit = 5
	}
	for _, a := range incident.Anomalies[:limit] {
		text := fmt.Sprintf("*%s* - `%s`\nCurrent: `%.1f` | Baseline: `%.1f` | Z-score: `%.1f`",
			a.Service, a.Metric, a.CurrentValue, a.BaselineMean, a.ZScore)
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
	}

	if incident.Analysis != nil {
		blocks = append(blocks,
			slack.NewDividerBlock(),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*AI Analysis* (confidence: %s)\n>%s",
					incident.Analysis.Confidence, incident.Analysis.RootCause), false, false), nil, nil),
		)
		if len(incident.Analysis.RemediationSteps) > 0 {
			var steps strings.Builder
			for i, step := range incident.Analysis.RemediationSteps {
				if i > 0 {
					steps.WriteString("\n")
				}
				fmt.Fprintf(&steps, "%d. %s", i+1, step)
			}
			blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Suggested Remediation:*\n%s", steps.String()), false, false), nil, nil))
		}
	}

	if len(incident.MatchedRunbooks) > 0 {
		limit := len(incident.MatchedRunbooks)
		if limit > 3 {
			limit = 3
		}
		titles := make([]string, 0, limit)
		for _, rb := range incident.MatchedRunbooks[:limit] {
			titles = append(titles, "- "+rb.Title)
		}
		blocks = append(blocks,
			slack.NewDividerBlock(),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Related Runbooks:*\n%s", strings.Join(titles, "\n")), false, false), nil, nil),
		)
	}

	return blocks
}
