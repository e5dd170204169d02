package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/shineum/multimail/internal/bulk"
	"github.com/shineum/multimail/internal/client"
	"github.com/shineum/multimail/internal/email"
)

const (
	envEmailID     = "MULTIMAIL_EMAIL_ID"
	envAppPassword = "MULTIMAIL_APP_PASSWORD"
)

type sendOptions struct {
	to          []string
	toFile      string
	subject     string
	message     string
	messageFile string
	emailID     string
	appPassword string
	endpoint    string
	dedupe      bool
}

func newSendCommand(rt *runtime) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message to every recipient through the dispatch endpoint",
		Long: "Send posts one request per non-blank recipient to the dispatch endpoint, all at once,\n" +
			"and prints each result as it arrives. Credentials may also come from\n" +
			envEmailID + " and " + envAppPassword + ".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, rt, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.to, "to", nil, "recipient address (repeatable, comma separated)")
	f.StringVar(&opts.toFile, "to-file", "", "file with one recipient per line")
	f.StringVar(&opts.subject, "subject", "", "message subject")
	f.StringVar(&opts.message, "message", "", "HTML message body")
	f.StringVar(&opts.messageFile, "message-file", "", "file containing the HTML message body")
	f.StringVar(&opts.emailID, "email-id", "", "sender email address used to log in to the relay")
	f.StringVar(&opts.appPassword, "app-password", "", "app password for the sender account")
	f.StringVar(&opts.endpoint, "endpoint", "", "dispatch endpoint base URL (default from ENDPOINT_URL)")
	f.BoolVar(&opts.dedupe, "dedupe", false, "send once per distinct recipient")
	cmd.MarkFlagsMutuallyExclusive("message", "message-file")

	return cmd
}

func runSend(cmd *cobra.Command, rt *runtime, opts *sendOptions) error {
	out := cmd.OutOrStdout()

	recipients := append([]string(nil), opts.to...)
	if opts.toFile != "" {
		fromFile, err := readRecipients(opts.toFile)
		if err != nil {
			return err
		}
		recipients = append(recipients, fromFile...)
	}

	message := opts.message
	if opts.messageFile != "" {
		data, err := os.ReadFile(opts.messageFile)
		if err != nil {
			return fmt.Errorf("failed to read message file: %w", err)
		}
		message = string(data)
	}

	creds := email.Credentials{EmailID: opts.emailID, AppPassword: opts.appPassword}
	if creds.EmailID == "" {
		creds.EmailID = os.Getenv(envEmailID)
	}
	if creds.AppPassword == "" {
		creds.AppPassword = os.Getenv(envAppPassword)
	}

	endpoint := opts.endpoint
	if endpoint == "" {
		endpoint = rt.cfg.Endpoint.URL
	}
	c, err := client.New(
		client.WithEndpoint(endpoint),
		client.WithTimeout(rt.cfg.Endpoint.Timeout),
	)
	if err != nil {
		return err
	}

	p := &resultPrinter{w: out}
	o := bulk.New(c, p)

	n, err := o.Send(cmd.Context(), bulk.Batch{
		Recipients:  recipients,
		Subject:     opts.subject,
		Message:     message,
		Credentials: creds,
		Dedupe:      opts.dedupe,
	})
	if errors.Is(err, bulk.ErrMissingCredentials) {
		fmt.Fprintln(out, "Please provide email ID and app password (--email-id/--app-password or "+envEmailID+"/"+envAppPassword+")")
		return err
	}
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(out, "No recipients to send to")
		return nil
	}

	o.Wait()

	if failed := p.failures(); failed > 0 {
		return fmt.Errorf("%d of %d emails failed", failed, n)
	}
	return nil
}

// resultPrinter writes one line per result as it is reported.
type resultPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	failed int
}

func (p *resultPrinter) Report(res bulk.SendResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if res.Outcome == bulk.Failure {
		p.failed++
	}
	fmt.Fprintf(p.w, "[%s] %s\n", res.Outcome, res.Reason)
}

func (p *resultPrinter) failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// readRecipients reads one recipient per line. Blank lines are kept; the
// orchestrator skips them.
func readRecipients(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipients file: %w", err)
	}
	defer f.Close()

	var recipients []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		recipients = append(recipients, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recipients file: %w", err)
	}
	return recipients, nil
}
