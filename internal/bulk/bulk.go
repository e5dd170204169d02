// Package bulk fans one message out to many recipients, one independent
// dispatch per recipient, and reports every outcome as it resolves.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shineum/multimail/internal/email"
)

// ErrMissingCredentials rejects a whole batch before anything is sent.
var ErrMissingCredentials = errors.New("please provide email ID and app password")

// SendRequest is one recipient-scoped unit of work.
type SendRequest struct {
	Recipient   string
	Subject     string
	Message     string
	Credentials email.Credentials
}

// Outcome is the terminal state of a SendRequest.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// SendResult is reported once per dispatched recipient.
type SendResult struct {
	Recipient string
	Outcome   Outcome
	Reason    string
	Err       error
}

// Batch is the input of Send. Recipients is read, never modified.
type Batch struct {
	Recipients []string
	Subject    string
	Message    string

	Credentials email.Credentials

	// Dedupe sends once per distinct recipient. Off by default: a recipient
	// listed twice is mailed twice.
	Dedupe bool
}

// RejectedError is returned by a Dispatcher when the endpoint answered but
// refused or failed the send.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dispatch rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("dispatch rejected with status %d: %s", e.StatusCode, e.Message)
}

// Dispatcher submits one SendRequest to the dispatch endpoint.
type Dispatcher interface {
	Dispatch(ctx context.Context, req SendRequest) error
}

// Reporter consumes results. It is called from multiple goroutines.
type Reporter interface {
	Report(res SendResult)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(res SendResult)

// Report calls f(res).
func (f ReporterFunc) Report(res SendResult) {
	f(res)
}

// Orchestrator issues dispatches concurrently and reports each result.
type Orchestrator struct {
	dispatcher Dispatcher
	reporter   Reporter

	wg sync.WaitGroup
}

// New creates an Orchestrator.
func New(d Dispatcher, r Reporter) *Orchestrator {
	return &Orchestrator{dispatcher: d, reporter: r}
}

// Send starts one dispatch per non-blank recipient and returns how many were
// started. It does not wait for them; results arrive through the Reporter in
// completion order. Dispatches ignore cancellation of ctx.
func (o *Orchestrator) Send(ctx context.Context, b Batch) (int, error) {
	if !b.Credentials.Complete() {
		return 0, ErrMissingCredentials
	}

	ctx = context.WithoutCancel(ctx)
	recipients := recipientsOf(b)

	for _, rcpt := range recipients {
		req := SendRequest{
			Recipient:   rcpt,
			Subject:     b.Subject,
			Message:     b.Message,
			Credentials: b.Credentials,
		}

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.reporter.Report(o.dispatch(ctx, req))
		}()
	}

	slog.Debug("batch dispatched", "recipients", len(recipients), "dedupe", b.Dedupe)
	return len(recipients), nil
}

// Wait blocks until every dispatch started so far has been reported.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) dispatch(ctx context.Context, req SendRequest) SendResult {
	err := o.dispatcher.Dispatch(ctx, req)
	if err == nil {
		return SendResult{
			Recipient: req.Recipient,
			Outcome:   Success,
			Reason:    "Email sent to " + req.Recipient,
		}
	}

	res := SendResult{Recipient: req.Recipient, Outcome: Failure, Err: err}

	var rejected *RejectedError
	if errors.As(err, &rejected) {
		res.Reason = "Failed to send email to " + req.Recipient
	} else {
		res.Reason = fmt.Sprintf("Error sending email to %s: %v", req.Recipient, err)
	}
	slog.Debug("dispatch failed", "recipient", req.Recipient, "error", err)
	return res
}

// recipientsOf returns the trimmed, non-blank recipients in list order.
func recipientsOf(b Batch) []string {
	out := make([]string, 0, len(b.Recipients))
	var seen map[string]struct{}
	if b.Dedupe {
		seen = make(map[string]struct{}, len(b.Recipients))
	}

	for _, r := range b.Recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if seen != nil {
			key := strings.ToLower(r)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}
