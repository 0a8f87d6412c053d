package models

import (
	"encoding/json"
	"fmt"
)

// ChannelType identifies a notification channel variant.
type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
	ChannelEmail   ChannelType = "email"
)

// ChannelConfig is a closed union of notification channel
// configurations. Each variant carries exactly the fields it needs, so
// an invalid combination (say, a Slack channel without a webhook URL)
// is unrepresentable once decoded.
type ChannelConfig interface {
	Type() ChannelType
}

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	WebhookURL string `json:"webhook_url"`
}

func (SlackChannel) Type() ChannelType { return ChannelSlack }

// WebhookChannel posts a generic JSON payload to an arbitrary URL.
type WebhookChannel struct {
	URL string `json:"url"`
}

func (WebhookChannel) Type() ChannelType { return ChannelWebhook }

// EmailChannel delivers via the configured mail transport.
type EmailChannel struct {
	To string `json:"to"`
}

func (EmailChannel) Type() ChannelType { return ChannelEmail }

// channelEnvelope is the tagged wire form of a ChannelConfig.
type channelEnvelope struct {
	Type       ChannelType `json:"type"`
	WebhookURL string      `json:"webhook_url,omitempty"`
	URL        string      `json:"url,omitempty"`
	To         string      `json:"to,omitempty"`
}

// DecodeChannelConfig parses the tagged JSON form of a channel
// configuration. Unknown types and missing variant fields are errors.
func DecodeChannelConfig(data []byte) (ChannelConfig, error) {
	var env channelEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode channel config: %w", err)
	}

	switch env.Type {
	case ChannelSlack:
		if env.WebhookURL == "" {
			return nil, fmt.Errorf("slack channel requires webhook_url")
		}
		return SlackChannel{WebhookURL: env.WebhookURL}, nil
	case ChannelWebhook:
		if env.URL == "" {
			return nil, fmt.Errorf("webhook channel requires url")
		}
		return WebhookChannel{URL: env.URL}, nil
	case ChannelEmail:
		if env.To == "" {
			return nil, fmt.Errorf("email channel requires to")
		}
		return EmailChannel{To: env.To}, nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", env.Type)
	}
}

// EncodeChannelConfig renders a ChannelConfig in its tagged JSON form.
func EncodeChannelConfig(c ChannelConfig) ([]byte, error) {
	env := channelEnvelope{Type: c.Type()}
	switch v := c.(type) {
	case SlackChannel:
		env.WebhookURL = v.WebhookURL
	case WebhookChannel:
		env.URL = v.URL
	case EmailChannel:
		env.To = v.To
	default:
		return nil, fmt.Errorf("unknown channel config %T", c)
	}
	return json.Marshal(env)
}
