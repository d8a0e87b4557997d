package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// DeliveryResult is what a channel reports for one send attempt.
type DeliveryResult struct {
	Success    bool
	StatusCode *int
	ExternalID *string
	Error      *string
}

func failed(msg string) DeliveryResult {
	return DeliveryResult{Error: &msg}
}

type EmailMessage struct {
	ToName  string
	ToEmail string
	Subject string
	Body    string
}

type SMSMessage struct {
	To   string
	Body string
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) DeliveryResult
}

type SMSSender interface {
	SendSMS(ctx context.Context, msg SMSMessage) DeliveryResult
}

// SendGridSender delivers email through the SendGrid v3 mail send API.
type SendGridSender struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides https://api.sendgrid.com.
	Host   string
	Logger *log.Logger
}

func (s SendGridSender) SendEmail(ctx context.Context, msg EmailMessage) DeliveryResult {
	if s.APIKey == "" || s.FromEmail == "" {
		warn(s.Logger, "SendGrid configuration is missing; skipping email to %s", msg.ToEmail)
		return failed("SendGrid configuration is missing")
	}
	fromName := s.FromName
	if fromName == "" {
		fromName = "Compliance Automation"
	}
	from := mail.NewEmail(fromName, s.FromEmail)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, htmlBody(msg.Body))

	req := sendgrid.GetRequest(s.APIKey, "/v3/mail/send", s.Host)
	req.Method = rest.Post
	req.Body = mail.GetRequestBody(message)
	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return failed(err.Error())
	}
	code := resp.StatusCode
	res := DeliveryResult{StatusCode: &code, Success: code >= 200 && code < 300}
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 && ids[0] != "" {
		id := ids[0]
		res.ExternalID = &id
	}
	if !res.Success {
		e := fmt.Sprintf("SendGrid responded with status %d: %s", code, strings.TrimSpace(resp.Body))
		res.Error = &e
	}
	return res
}

func htmlBody(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = html.EscapeString(l)
	}
	return "<p>" + strings.Join(lines, "<br>") + "</p>"
}

// TwilioSender sends SMS through the Twilio Messages API.
type TwilioSender struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// BaseURL redirects requests away from https://api.twilio.com.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *log.Logger
}

func (s TwilioSender) SendSMS(ctx context.Context, msg SMSMessage) DeliveryResult {
	if s.AccountSID == "" || s.AuthToken == "" || s.FromNumber == "" {
		warn(s.Logger, "Twilio configuration is missing; skipping SMS to %s", msg.To)
		return failed("Twilio configuration is missing")
	}
	if err := ctx.Err(); err != nil {
		return failed(err.Error())
	}
	rc, err := s.restClient()
	if err != nil {
		return failed(err.Error())
	}
	params := &openapi.CreateMessageParams{}
	params.SetPathAccountSid(s.AccountSID)
	params.SetTo(msg.To)
	params.SetFrom(s.FromNumber)
	params.SetBody(msg.Body)
	resp, err := rc.Api.CreateMessage(params)
	if err != nil {
		var restErr *client.TwilioRestError
		if errors.As(err, &restErr) {
			res := DeliveryResult{}
			if restErr.Status != 0 {
				code := restErr.Status
				res.StatusCode = &code
			}
			e := restErr.Message
			if e == "" {
				e = fmt.Sprintf("Twilio responded with status %d", restErr.Status)
			}
			res.Error = &e
			return res
		}
		return failed(err.Error())
	}
	code := http.StatusCreated
	res := DeliveryResult{Success: true, StatusCode: &code}
	if resp != nil && resp.Sid != nil && *resp.Sid != "" {
		sid := *resp.Sid
		res.ExternalID = &sid
	}
	return res
}

func (s TwilioSender) restClient() (*twilio.RestClient, error) {
	hc := s.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if s.BaseURL != "" {
		target, err := url.Parse(strings.TrimRight(s.BaseURL, "/"))
		if err != nil {
			return nil, fmt.Errorf("twilio base url: %w", err)
		}
		next := hc.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		redirected := *hc
		redirected.Transport = rewriteHost{target: target, next: next}
		hc = &redirected
	}
	c := &client.Client{
		Credentials: client.NewCredentials(s.AccountSID, s.AuthToken),
		HTTPClient:  hc,
	}
	c.SetAccountSid(s.AccountSID)
	return twilio.NewRestClientWithParams(twilio.ClientParams{Client: c}), nil
}

// rewriteHost sends every request to target, keeping path and query.
type rewriteHost struct {
	target *url.URL
	next   http.RoundTripper
}

func (rt rewriteHost) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = rt.target.Host
	return rt.next.RoundTrip(out)
}

// LogSender writes messages to a logger instead of delivering them. It is
// used when no provider is configured, e.g. in development.
type LogSender struct {
	Logger *log.Logger
}

func (s LogSender) SendEmail(_ context.Context, msg EmailMessage) DeliveryResult {
	warn(s.Logger, "email to %s: %s", msg.ToEmail, msg.Subject)
	return DeliveryResult{Success: true}
}

func (s LogSender) SendSMS(_ context.Context, msg SMSMessage) DeliveryResult {
	warn(s.Logger, "sms to %s: %s", msg.To, msg.Body)
	return DeliveryResult{Success: true}
}

func warn(l *log.Logger, format string, args ...any) {
	if l == nil {
		return
	}
	l.Printf(format, args...)
}
