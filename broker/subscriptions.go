package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/transport"
)

const (
	defaultSubscriptionExpires = "2050-12-31T23:59:59.00Z"
	subscriptionPageSize       = 100
)

var notificationMetadata = []string{"dateModified", "timestamp"}

// SubscriptionSpec describes a notification subscription. Description is
// the identity used to detect an existing subscription.
type SubscriptionSpec struct {
	Description    string
	EntityType     string
	IDPattern      string
	ConditionAttrs []string
	NotifyAttrs    []string
	ExceptAttrs    bool
	NotifyURL      string
	NotifyHeaders  map[string]string
	Expires        string
	Throttling     int
}

func SpecFromConfig(cfg core.SubscriptionConfig) SubscriptionSpec {
	return SubscriptionSpec{
		Description:    strings.TrimSpace(cfg.Description),
		EntityType:     strings.TrimSpace(cfg.EntityType),
		ConditionAttrs: append([]string(nil), cfg.ConditionAttrs...),
		NotifyAttrs:    append([]string(nil), cfg.NotifyAttrs...),
		ExceptAttrs:    cfg.ExceptAttrs,
		NotifyURL:      strings.TrimSpace(cfg.NotifyURL),
		NotifyHeaders:  cfg.NotifyHeaders,
		Expires:        strings.TrimSpace(cfg.Expires),
		Throttling:     cfg.ThrottlingSeconds,
	}
}

type Subscription struct {
	ID           string       `json:"id,omitempty"`
	Description  string       `json:"description"`
	Subject      Subject      `json:"subject"`
	Notification Notification `json:"notification"`
	Expires      string       `json:"expires,omitempty"`
	Status       string       `json:"status,omitempty"`
	Throttling   int          `json:"throttling,omitempty"`
}

type Subject struct {
	Entities  []EntitySelector `json:"entities"`
	Condition *Condition       `json:"condition,omitempty"`
}

type EntitySelector struct {
	ID        string `json:"id,omitempty"`
	IDPattern string `json:"idPattern,omitempty"`
	Type      string `json:"type,omitempty"`
}

type Condition struct {
	Attrs []string `json:"attrs,omitempty"`
}

type Notification struct {
	Attrs       []string    `json:"attrs,omitempty"`
	ExceptAttrs []string    `json:"exceptAttrs,omitempty"`
	HTTP        *HTTPTarget `json:"http,omitempty"`
	HTTPCustom  *HTTPTarget `json:"httpCustom,omitempty"`
	Metadata    []string    `json:"metadata,omitempty"`
}

type HTTPTarget struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (s SubscriptionSpec) payload() (Subscription, error) {
	if s.Description == "" {
		return Subscription{}, fmt.Errorf("broker: subscription description is required")
	}
	if s.NotifyURL == "" {
		return Subscription{}, fmt.Errorf("broker: subscription notify url is required")
	}
	idPattern := s.IDPattern
	if idPattern == "" {
		idPattern = ".*"
	}
	expires := s.Expires
	if expires == "" {
		expires = defaultSubscriptionExpires
	}

	sub := Subscription{
		Description: s.Description,
		Subject: Subject{
			Entities: []EntitySelector{{IDPattern: idPattern, Type: s.EntityType}},
		},
		Notification: Notification{
			Metadata: append([]string(nil), notificationMetadata...),
		},
		Expires:    expires,
		Status:     "active",
		Throttling: s.Throttling,
	}
	if len(s.ConditionAttrs) > 0 {
		sub.Subject.Condition = &Condition{Attrs: append([]string(nil), s.ConditionAttrs...)}
	}
	if s.ExceptAttrs {
		sub.Notification.ExceptAttrs = append([]string(nil), s.NotifyAttrs...)
	} else {
		sub.Notification.Attrs = append([]string(nil), s.NotifyAttrs...)
	}
	target := &HTTPTarget{URL: s.NotifyURL}
	if len(s.NotifyHeaders) > 0 {
		target.Headers = s.NotifyHeaders
		sub.Notification.HTTPCustom = target
	} else {
		sub.Notification.HTTP = target
	}
	return sub, nil
}

func (c *Client) ListSubscriptions(ctx context.Context) (subs []Subscription, err error) {
	startedAt := time.Now()
	defer func() {
		c.observer.ObserveOperation(ctx, startedAt, "broker list subscriptions", err, map[string]any{
			"subscriptions": len(subs),
		})
	}()

	for offset := 0; ; offset += subscriptionPageSize {
		req := transport.Request{
			Method: http.MethodGet,
			URL:    c.endpoint("subscriptions"),
			Query: map[string]string{
				"limit":  strconv.Itoa(subscriptionPageSize),
				"offset": strconv.Itoa(offset),
			},
		}
		res, err := c.send(ctx, req)
		if err != nil {
			return nil, err
		}
		if res.Class() != transport.ClassSuccess {
			return nil, permanentError("broker: list subscriptions", req, res)
		}
		var page []Subscription
		if err := json.Unmarshal(res.Body, &page); err != nil {
			return nil, core.NewPermanentError("broker: decode subscriptions", err, nil)
		}
		subs = append(subs, page...)
		if len(page) < subscriptionPageSize {
			return subs, nil
		}
	}
}

// EnsureSubscription creates the subscription unless one with the same
// description already exists.
func (c *Client) EnsureSubscription(ctx context.Context, spec SubscriptionSpec) (id string, created bool, err error) {
	payload, err := spec.payload()
	if err != nil {
		return "", false, core.NewPermanentError("broker: invalid subscription", err, nil)
	}
	existing, err := c.ListSubscriptions(ctx)
	if err != nil {
		return "", false, err
	}
	for _, sub := range existing {
		if sub.Description == payload.Description {
			return sub.ID, false, nil
		}
	}

	startedAt := time.Now()
	defer func() {
		c.observer.ObserveOperation(ctx, startedAt, "broker create subscription", err, map[string]any{
			"description":     payload.Description,
			"subscription_id": id,
		})
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return "", false, core.NewPermanentError("broker: encode subscription", err, nil)
	}
	req := transport.Request{
		Method: http.MethodPost,
		URL:    c.endpoint("subscriptions"),
		Body:   body,
	}
	res, err := c.send(ctx, req)
	if err != nil {
		return "", false, err
	}
	if res.Class() != transport.ClassSuccess {
		return "", false, permanentError("broker: create subscription", req, res)
	}
	location := res.Header("Location")
	if location == "" {
		return "", true, nil
	}
	return path.Base(strings.SplitN(location, "?", 2)[0]), true, nil
}
