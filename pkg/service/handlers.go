package service

import (
	"context"
	"fmt"

	"github.com/ignatij/notiflow/pkg/models"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMeetingLink = "https://meet.google.com/new"

	// max concurrent sends for one meeting step
	meetingFanOut = 8
)

// Notifier delivers a single message to a single recipient.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, recipient, subject, body string) error

func (f NotifierFunc) Send(ctx context.Context, recipient, subject, body string) error {
	return f(ctx, recipient, subject, body)
}

// StepHandler owns the payload vocabulary and side effects of one step type.
type StepHandler interface {
	// Validate rejects a payload at submission time.
	Validate(payload map[string]interface{}) error
	// Execute performs a single attempt.
	Execute(ctx context.Context, task models.Task) error
}

// LinkGenerator produces the meeting link appended to meeting invitations.
type LinkGenerator func(ctx context.Context, task models.Task) (string, error)

func StaticLink(url string) LinkGenerator {
	return func(context.Context, models.Task) (string, error) {
		return url, nil
	}
}

// EmailHandler sends one message to payload["to"].
type EmailHandler struct {
	notifier Notifier
}

func NewEmailHandler(notifier Notifier) *EmailHandler {
	return &EmailHandler{notifier: notifier}
}

func (h *EmailHandler) Validate(payload map[string]interface{}) error {
	if _, ok := stringField(payload, "to"); !ok {
		return errors.New("email step requires 'to'")
	}
	if _, ok := stringField(payload, "subject"); !ok {
		return errors.New("email step requires 'subject'")
	}
	_, hasBody := payload["body"].(string)
	_, hasTemplate := stringField(payload, "template_id")
	if !hasBody && !hasTemplate {
		return errors.New("email step requires 'body' or 'template_id'")
	}
	return nil
}

func (h *EmailHandler) Execute(ctx context.Context, task models.Task) error {
	payload := task.Step.Payload
	to, _ := stringField(payload, "to")
	subject, _ := stringField(payload, "subject")
	body, _ := payload["body"].(string)
	if err := h.notifier.Send(ctx, to, subject, body); err != nil {
		return &NotifierError{Recipient: to, Err: err}
	}
	return nil
}

// MeetingHandler appends a meeting link to the body and invites every recipient.
// All recipients are attempted even when some fail; the error reported is the one of
// the first failing recipient in list order.
type MeetingHandler struct {
	notifier Notifier
	links    LinkGenerator
}

func NewMeetingHandler(notifier Notifier, links LinkGenerator) *MeetingHandler {
	if links == nil {
		links = StaticLink(DefaultMeetingLink)
	}
	return &MeetingHandler{notifier: notifier, links: links}
}

func (h *MeetingHandler) Validate(payload map[string]interface{}) error {
	recipients, ok := recipientList(payload)
	if !ok || len(recipients) == 0 {
		return errors.New("meeting step requires a non-empty 'to' list")
	}
	if _, ok := stringField(payload, "subject"); !ok {
		return errors.New("meeting step requires 'subject'")
	}
	if _, ok := payload["body"].(string); !ok {
		return errors.New("meeting step requires 'body'")
	}
	return nil
}

func (h *MeetingHandler) Execute(ctx context.Context, task models.Task) error {
	payload := task.Step.Payload
	recipients, _ := recipientList(payload)
	subject, _ := stringField(payload, "subject")
	body, _ := payload["body"].(string)

	link, err := h.links(ctx, task)
	if err != nil {
		return errors.Wrap(err, "generate meeting link")
	}
	body = fmt.Sprintf("%s\n\nMeet Link: %s", body, link)

	errs := make([]error, len(recipients))
	var g errgroup.Group
	g.SetLimit(meetingFanOut)
	for i, to := range recipients {
		i, to := i, to
		g.Go(func() error {
			if err := h.notifier.Send(ctx, to, subject, body); err != nil {
				errs[i] = &NotifierError{Recipient: to, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func stringField(payload map[string]interface{}, key string) (string, bool) {
	s, ok := payload[key].(string)
	return s, ok && s != ""
}

// recipientList reads "to" as a list, falling back to the legacy "to_list" key.
func recipientList(payload map[string]interface{}) ([]string, bool) {
	raw, ok := payload["to"]
	if !ok {
		raw, ok = payload["to_list"]
	}
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
