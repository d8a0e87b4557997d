package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTwilioSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC1/Messages.json" {
			t.Errorf("path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "secret" {
			t.Errorf("basic auth %q %q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("form: %v", err)
		}
		if r.PostForm.Get("To") != "+1555" || r.PostForm.Get("From") != "+1999" || r.PostForm.Get("Body") != "hi" {
			t.Errorf("form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sid":"SM123","status":"queued"}`)
	}))
	defer srv.Close()

	s := TwilioSender{AccountSID: "AC1", AuthToken: "secret", FromNumber: "+1999", BaseURL: srv.URL}
	res := s.SendSMS(context.Background(), SMSMessage{To: "+1555", Body: "hi"})
	if !res.Success || res.ExternalID == nil || *res.ExternalID != "SM123" || *res.StatusCode != 201 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTwilioSenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":21211,"message":"invalid number","status":400}`)
	}))
	defer srv.Close()
	s := TwilioSender{AccountSID: "AC1", AuthToken: "secret", FromNumber: "+1999", BaseURL: srv.URL}
	res := s.SendSMS(context.Background(), SMSMessage{To: "x", Body: "hi"})
	if res.Success || res.Error == nil || *res.Error != "invalid number" || res.StatusCode == nil || *res.StatusCode != 400 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTwilioSenderTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	s := TwilioSender{AccountSID: "AC1", AuthToken: "secret", FromNumber: "+1999", BaseURL: srv.URL}
	res := s.SendSMS(context.Background(), SMSMessage{To: "+1555", Body: "hi"})
	if res.Success || res.Error == nil || res.StatusCode != nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTwilioSenderCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := TwilioSender{AccountSID: "AC1", AuthToken: "secret", FromNumber: "+1999", BaseURL: "http://127.0.0.1:1"}
	if res := s.SendSMS(ctx, SMSMessage{To: "+1555", Body: "hi"}); res.Success || res.Error == nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSendGridSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" || r.Header.Get("Authorization") != "Bearer SG.key" {
			t.Errorf("request %s %q", r.URL.Path, r.Header.Get("Authorization"))
		}
		var body struct {
			Subject string `json:"subject"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Subject != "Hello" {
			t.Errorf("subject %q", body.Subject)
		}
		w.Header().Set("X-Message-Id", "sg-42")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := SendGridSender{APIKey: "SG.key", FromEmail: "noreply@example.com", Host: srv.URL}
	res := s.SendEmail(context.Background(), EmailMessage{ToEmail: "a@example.com", Subject: "Hello", Body: "line 1\nline <2>"})
	if !res.Success || res.ExternalID == nil || *res.ExternalID != "sg-42" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMissingProviderConfig(t *testing.T) {
	res := SendGridSender{}.SendEmail(context.Background(), EmailMessage{ToEmail: "a@example.com"})
	if res.Success || res.Error == nil || *res.Error != "SendGrid configuration is missing" {
		t.Fatalf("unexpected result %+v", res)
	}
	sms := TwilioSender{AccountSID: "AC1"}.SendSMS(context.Background(), SMSMessage{To: "+1"})
	if sms.Success || sms.Error == nil || *sms.Error != "Twilio configuration is missing" {
		t.Fatalf("unexpected result %+v", sms)
	}
}

func TestHTMLBodyEscapes(t *testing.T) {
	if got := htmlBody("a\n<b>"); !strings.Contains(got, "a<br>&lt;b&gt;") {
		t.Fatalf("html %q", got)
	}
}
