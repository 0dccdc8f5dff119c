package notify

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

type fakeDiscord struct {
	channels []string
	embeds   []*discordgo.MessageEmbed
	errs     []error // returned in order, then nil
}

func (f *fakeDiscord) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channels = append(f.channels, channelID)
	f.embeds = append(f.embeds, embed)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func TestDiscordNotifier_PostsEmbed(t *testing.T) {
	sess := &fakeDiscord{}
	n := &DiscordNotifier{ChannelID: "C42", sess: sess}
	if err := n.Notify(context.Background(), wavelengthNotice); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sess.embeds) != 1 || sess.channels[0] != "C42" {
		t.Fatalf("sent %d embeds to %v, want 1 to C42", len(sess.embeds), sess.channels)
	}
	e := sess.embeds[0]
	if e.Title != "beamtime has no wavelength" || e.Description != "set the wavelength before reducing data" {
		t.Errorf("embed title/description = %q/%q", e.Title, e.Description)
	}
	if e.Footer == nil || e.Footer.Text != KindMissingWavelength {
		t.Errorf("footer = %+v, want kind", e.Footer)
	}
	if len(e.Fields) != 1 || e.Fields[0].Name != "beamtime_uid" || e.Fields[0].Value != "abcd1234" {
		t.Errorf("fields = %+v", e.Fields)
	}
}

func TestDiscordNotifier_RetriesRateLimit(t *testing.T) {
	sess := &fakeDiscord{errs: []error{rateLimited(), rateLimited()}}
	n := &DiscordNotifier{ChannelID: "C42", sess: sess, baseBackoff: time.Millisecond}
	if err := n.Notify(context.Background(), wavelengthNotice); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sess.embeds) != 3 {
		t.Errorf("calls = %d, want 3", len(sess.embeds))
	}
}

func TestDiscordNotifier_GivesUpAfterMaxRetries(t *testing.T) {
	sess := &fakeDiscord{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited(), rateLimited()}}
	n := &DiscordNotifier{ChannelID: "C42", sess: sess, baseBackoff: time.Millisecond}
	if err := n.Notify(context.Background(), wavelengthNotice); err == nil {
		t.Fatal("expected error")
	}
	if len(sess.embeds) != maxRetries+1 {
		t.Errorf("calls = %d, want %d", len(sess.embeds), maxRetries+1)
	}
}

func TestDiscordNotifier_NoRetryOnOtherErrors(t *testing.T) {
	boom := errors.New("missing access")
	sess := &fakeDiscord{errs: []error{boom}}
	n := &DiscordNotifier{ChannelID: "C42", sess: sess, baseBackoff: time.Millisecond}
	err := n.Notify(context.Background(), wavelengthNotice)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want to wrap %v", err, boom)
	}
	if len(sess.embeds) != 1 {
		t.Errorf("calls = %d, want 1", len(sess.embeds))
	}
}

func TestNewDiscord_Validation(t *testing.T) {
	if _, err := NewDiscord("", "C42"); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := NewDiscord("token", ""); err == nil {
		t.Error("expected error for empty channel")
	}
	n, err := NewDiscord("token", "C42")
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	if n.ChannelID != "C42" || n.sess == nil {
		t.Errorf("notifier = %+v", n)
	}
}
