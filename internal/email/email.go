package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

// MagicLinkParams contains the parameters for a login link email
type MagicLinkParams struct {
	ToEmail   string
	Name      string
	LoginURL  string
	ExpiresIn time.Duration
}

// Service defines the interface for email operations
type Service interface {
	// SendMagicLink sends a one-time dashboard login link
	SendMagicLink(ctx context.Context, params MagicLinkParams) error
}

const magicLinkSubject = "Your Analytics Dashboard Login Link"

// RateLimitedService wraps a Service with a per-recipient hourly limit
type RateLimitedService struct {
	service      Service
	limiter      *EmailRateLimiter
	limitPerHour int
}

// NewRateLimitedService creates a new rate-limited email service
func NewRateLimitedService(service Service, limitPerHour int) *RateLimitedService {
	return &RateLimitedService{
		service:      service,
		limiter:      NewEmailRateLimiter(),
		limitPerHour: limitPerHour,
	}
}

// SendMagicLink sends a login link unless the recipient already received
// limitPerHour links in the last hour.
func (s *RateLimitedService) SendMagicLink(ctx context.Context, params MagicLinkParams) error {
	if !s.limiter.Allow(params.ToEmail, s.limitPerHour) {
		return ErrRateLimitExceeded
	}
	s.limiter.Record(params.ToEmail)
	return s.service.SendMagicLink(ctx, params)
}

// EmailRateLimiter tracks email sends per recipient per hour
type EmailRateLimiter struct {
	mu      sync.Mutex
	records map[string][]time.Time
	now     func() time.Time
}

// NewEmailRateLimiter creates a new email rate limiter
func NewEmailRateLimiter() *EmailRateLimiter {
	return &EmailRateLimiter{
		records: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow checks if a single email can be sent
func (l *EmailRateLimiter) Allow(recipient string, limitPerHour int) bool {
	return l.AllowN(recipient, limitPerHour, 1)
}

// AllowN checks if n emails can be sent (without recording them)
func (l *EmailRateLimiter) AllowN(recipient string, limitPerHour int, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	oneHourAgo := l.now().Add(-time.Hour)
	var valid []time.Time
	for _, ts := range l.records[recipient] {
		if ts.After(oneHourAgo) {
			valid = append(valid, ts)
		}
	}
	if len(valid) == 0 {
		delete(l.records, recipient)
	} else {
		l.records[recipient] = valid
	}

	return len(valid)+n <= limitPerHour
}

// Record records that an email was sent
func (l *EmailRateLimiter) Record(recipient string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[recipient] = append(l.records[recipient], l.now())
}

// ResendService implements Service using the Resend API
type ResendService struct {
	apiKey      string
	fromAddress string
	fromName    string
	endpoint    string
	httpClient  *http.Client
}

// NewResendService creates a new Resend email service
func NewResendService(apiKey, fromAddress, fromName string) *ResendService {
	return &ResendService{
		apiKey:      apiKey,
		fromAddress: fromAddress,
		fromName:    fromName,
		endpoint:    "https://api.resend.com/emails",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// resendRequest is the request body for Resend API
type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

// SendMagicLink sends a login link via Resend
func (s *ResendService) SendMagicLink(ctx context.Context, params MagicLinkParams) error {
	htmlBody, err := renderHTMLTemplate(params)
	if err != nil {
		return fmt.Errorf("failed to render HTML template: %w", err)
	}

	reqBody := resendRequest{
		From:    fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress),
		To:      []string{params.ToEmail},
		Subject: magicLinkSubject,
		HTML:    htmlBody,
		Text:    renderTextTemplate(params),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("resend API error (status %d): %v", resp.StatusCode, errResp)
	}

	return nil
}

func expiryText(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if m := int(d.Minutes()); m < 120 {
		return fmt.Sprintf("%d minutes", m)
	}
	return fmt.Sprintf("%d hours", int(d.Hours()))
}

var htmlTmpl = template.Must(template.New("magic_link").Parse(htmlTemplate))

// renderHTMLTemplate renders the HTML email template
func renderHTMLTemplate(params MagicLinkParams) (string, error) {
	data := templateData{
		Name:      params.Name,
		LoginURL:  params.LoginURL,
		ExpiresIn: expiryText(params.ExpiresIn),
	}
	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderTextTemplate renders the plain text email template
func renderTextTemplate(params MagicLinkParams) string {
	name := params.Name
	if name == "" {
		name = "there"
	}

	text := fmt.Sprintf(`Hi %s,

Click the link below to log in to the analytics dashboard:

%s
`, name, params.LoginURL)

	if exp := expiryText(params.ExpiresIn); exp != "" {
		text += fmt.Sprintf("\nThis link expires in %s.\n", exp)
	}

	text += `
If you didn't request this, you can ignore this email.

---
OutcomeOps Analytics
`
	return text
}

type templateData struct {
	Name      string
	LoginURL  string
	ExpiresIn string
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #ffffff;">
    <table role="presentation" width="100%" cellspacing="0" cellpadding="0" border="0">
        <tr>
            <td style="padding: 20px;">
                <p style="margin: 0 0 12px 0; font-size: 15px; line-height: 1.4; color: #374151;">
                    Hi {{if .Name}}{{.Name}}{{else}}there{{end}},
                </p>

                <p style="margin: 0 0 12px 0; font-size: 14px; line-height: 1.4; color: #6b7280;">
                    Click the button below to log in to the analytics dashboard:
                </p>

                <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="margin: 0 0 16px 0;">
                    <tr>
                        <td style="border-radius: 4px; background-color: #6366f1;">
                            <a href="{{.LoginURL}}" target="_blank" style="display: inline-block; padding: 10px 20px; font-size: 14px; font-weight: 600; color: #ffffff; text-decoration: none;">Log in to Dashboard</a>
                        </td>
                    </tr>
                </table>

                {{if .ExpiresIn}}<p style="margin: 0 0 16px 0; font-size: 13px; color: #6b7280;">This link expires in {{.ExpiresIn}}.</p>{{end}}

                <p style="margin: 0 0 16px 0; font-size: 13px; color: #6b7280;">If you didn't request this, you can ignore this email.</p>

                <p style="margin: 16px 0 0 0; padding-top: 12px; border-top: 1px solid #e5e7eb; font-size: 11px; line-height: 1.5; color: #9ca3af;">
                    OutcomeOps Analytics
                </p>
            </td>
        </tr>
    </table>
</body>
</html>`

// LogService stands in for a real sender when no email provider is
// configured. Login links are written to the debug log only.
type LogService struct{}

// SendMagicLink logs the login link at debug level
func (LogService) SendMagicLink(ctx context.Context, params MagicLinkParams) error {
	logger.Ctx(ctx).Debug("email disabled, magic link not sent",
		"to", params.ToEmail,
		"login_url", params.LoginURL,
	)
	return nil
}

// MockService is a mock implementation for testing
type MockService struct {
	mu         sync.Mutex
	SentEmails []MagicLinkParams
	ShouldFail bool
	FailError  error
}

// NewMockService creates a new mock email service
func NewMockService() *MockService {
	return &MockService{
		SentEmails: []MagicLinkParams{},
	}
}

// SendMagicLink records the email params for testing
func (m *MockService) SendMagicLink(ctx context.Context, params MagicLinkParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		if m.FailError != nil {
			return m.FailError
		}
		return fmt.Errorf("mock email service failure")
	}
	m.SentEmails = append(m.SentEmails, params)
	return nil
}

// Sent returns a copy of the recorded emails
func (m *MockService) Sent() []MagicLinkParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MagicLinkParams(nil), m.SentEmails...)
}

// Reset clears all recorded emails
func (m *MockService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentEmails = []MagicLinkParams{}
	m.ShouldFail = false
	m.FailError = nil
}
