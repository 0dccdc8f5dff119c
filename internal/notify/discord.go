package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

// warningColor is the embed accent for advisory notices.
const warningColor = 0xE0A030

// discordSession is the part of *discordgo.Session used to post notices.
// Posting goes through the REST API; no gateway connection is opened.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts notices as embeds to one Discord channel using a bot
// token.
type DiscordNotifier struct {
	ChannelID string

	sess        discordSession
	baseBackoff time.Duration
}

// NewDiscord returns a notifier posting to channelID as the bot identified by
// botToken.
func NewDiscord(botToken, channelID string) (*DiscordNotifier, error) {
	if botToken == "" {
		return nil, errors.New("notify: discord bot token is empty")
	}
	if channelID == "" {
		return nil, errors.New("notify: discord channel id is empty")
	}
	dg, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &DiscordNotifier{ChannelID: channelID, sess: dg, baseBackoff: 2 * time.Second}, nil
}

func (d *DiscordNotifier) Notify(ctx context.Context, n Notice) error {
	if d.sess == nil {
		return errors.New("notify: discord session is not configured")
	}
	embed := noticeToEmbed(n)
	err := d.retryOnRateLimit(ctx, func() error {
		_, err := d.sess.ChannelMessageSendEmbed(d.ChannelID, embed, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("notify: discord %s: %w", n.Kind, err)
	}
	return nil
}

// noticeToEmbed renders a notice as a Discord embed.
func noticeToEmbed(n Notice) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       warningColor,
		Footer:      &discordgo.MessageEmbedFooter{Text: n.Kind},
	}
	for _, k := range sortedKeys(n.Fields) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   k,
			Value:  n.Fields[k],
			Inline: true,
		})
	}
	return embed
}

// retryOnRateLimit retries fn with exponential backoff while Discord answers
// 429.
func (d *DiscordNotifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil ||
			restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * d.baseBackoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
