package slack

import (
	"context"
	"fmt"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
	"github.com/belv2c/kubinaut/pkg/apierror"
)

// maxOutputChars keeps command output within a single section block.
const maxOutputChars = 2500

// Config holds Slack notifier configuration.
type Config struct {
	BotToken       string
	DefaultChannel string
	Channels       map[string]string // namespace -> channel ID
	// APIURL overrides the Slack API endpoint; used in tests.
	APIURL string
}

// Notifier implements outbound.Notifier via the Slack API.
type Notifier struct {
	client *slackapi.Client
	config Config
}

var _ outbound.Notifier = (*Notifier)(nil)

// NewNotifier creates a new Slack Notifier.
func NewNotifier(cfg Config) *Notifier {
	var opts []slackapi.Option
	if cfg.APIURL != "" {
		opts = append(opts, slackapi.OptionAPIURL(cfg.APIURL))
	}
	return &Notifier{
		client: slackapi.New(cfg.BotToken, opts...),
		config: cfg,
	}
}

// channelFor returns the channel to post to for a given namespace.
func (n *Notifier) channelFor(namespace string) string {
	if ch, ok := n.config.Channels[namespace]; ok {
		return ch
	}
	return n.config.DefaultChannel
}

// NotifyCommand posts the outcome of an executed command.
func (n *Notifier) NotifyCommand(ctx context.Context, inv model.CommandInvocation, result model.CommandResult) error {
	blocks := BuildCommandBlocks(inv, result)
	channel := n.channelFor(inv.Namespace)

	_, _, err := n.client.PostMessageContext(ctx, channel,
		slackapi.MsgOptionBlocks(blocks...),
		slackapi.MsgOptionText(fmt.Sprintf("%s `%s` in %s", statusEmoji(result), inv.Command, inv.Namespace), false),
	)
	if err != nil {
		return fmt.Errorf("slack NotifyCommand: %w", err)
	}
	return nil
}

// BuildCommandBlocks renders a command outcome as Block Kit blocks.
func BuildCommandBlocks(inv model.CommandInvocation, result model.CommandResult) []slackapi.Block {
	header := fmt.Sprintf("%s *Command %s* in `%s`", statusEmoji(result), statusWord(result), inv.Namespace)
	lines := []string{header, fmt.Sprintf("`%s`", inv.Command)}
	if result.Message != "" {
		lines = append(lines, fmt.Sprintf("_%s_", result.Message))
	}

	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType, strings.Join(lines, "\n"), false, false),
			nil, nil,
		),
	}

	if out := strings.TrimSpace(result.Output); out != "" {
		if len(out) > maxOutputChars {
			out = out[:maxOutputChars] + "\n..."
		}
		blocks = append(blocks, slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType, fmt.Sprintf("```\n%s\n```", out), false, false),
			nil, nil,
		))
	}

	footer := []slackapi.MixedElement{
		slackapi.NewTextBlockObject(slackapi.MarkdownType, fmt.Sprintf("session `%s`", inv.SessionID), false, false),
	}
	if d := inv.Duration(); d > 0 {
		footer = append(footer, slackapi.NewTextBlockObject(slackapi.MarkdownType, fmt.Sprintf("took %s", d.Round(time.Millisecond)), false, false))
	}
	blocks = append(blocks, slackapi.NewContextBlock("", footer...))
	return blocks
}

// statusEmoji maps a result to an emoji.
func statusEmoji(result model.CommandResult) string {
	switch {
	case result.Success:
		return ":white_check_mark:"
	case result.ErrorKind == string(apierror.KindPermissionDenied):
		return ":no_entry:"
	case result.ErrorKind == string(apierror.KindTimeout):
		return ":hourglass_flowing_sand:"
	default:
		return ":x:"
	}
}

func statusWord(result model.CommandResult) string {
	if result.Success {
		return "succeeded"
	}
	return "failed"
}
