// Package channels holds the delivery transports and the registry that maps
// a template's channel name to one of them.
package channels

import (
	"context"
	"fmt"
	"strings"
)

// Options carries channel specific send parameters such as parse_mode or
// html_message. Keys a channel does not know are ignored.
type Options map[string]interface{}

func (o Options) String(key, fallback string) string {
	if v, ok := o[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func (o Options) Bool(key string, fallback bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return fallback
}

type Message struct {
	Recipient string
	Subject   string
	Body      string
	Options   Options
}

// Response is what a channel reports after a successful send. Delivered is
// true only when the transport confirms the message reached the recipient.
type Response struct {
	Delivered bool
	Data      map[string]interface{}
}

type Channel interface {
	Name() string
	// ValidateRecipient must be pure; it runs before any breaker budget is used.
	ValidateRecipient(recipient string) bool
	Send(ctx context.Context, msg Message) (*Response, error)
}

func describe(ch Channel, recipient string) string {
	return fmt.Sprintf("%s:%s", ch.Name(), recipient)
}
