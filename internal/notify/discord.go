package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Embed colors per status.
const (
	colorRunning = 0x2ECC71
	colorStopped = 0x95A5A6
	colorError   = 0xE74C3C
)

// discordSession abstracts the discordgo REST calls we use.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts events as embeds to one channel.
type Discord struct {
	sess      discordSession
	channelID string
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// NewDiscord creates a Discord notifier. Only the REST API is used, so no
// gateway connection is opened.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}
	sess := opts.Session
	if sess == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("discord: bot token is required")
		}
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = dg
	}
	return &Discord{sess: sess, channelID: opts.ChannelID}, nil
}

// Notify implements Notifier.
func (d *Discord) Notify(ctx context.Context, e Event) error {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title(),
		Description: e.Message,
		Color:       statusColor(e.Status),
	}
	if !e.Time.IsZero() {
		embed.Timestamp = e.Time.UTC().Format(time.RFC3339)
	}
	if _, err := d.sess.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send %s: %w", e.WorkerID, err)
	}
	return nil
}

func statusColor(status string) int {
	switch status {
	case "running":
		return colorRunning
	case "error":
		return colorError
	default:
		return colorStopped
	}
}
