package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Settings keys for channel credentials.
const (
	SettingSMSAPIURL   = "sms_api_url"
	SettingSMSAPIKey   = "sms_api_key"
	SettingSMSFrom     = "sms_from_number"
	SettingEmailAPIURL = "email_api_url"
	SettingEmailAPIKey = "email_api_key"
	SettingEmailFrom   = "email_from_address"
)

// SMSClient posts form-encoded messages to the SMS gateway.
type SMSClient struct {
	log      *slog.Logger
	http     *http.Client
	settings SettingsProvider
}

func NewSMSClient(log *slog.Logger, settings SettingsProvider) *SMSClient {
	return &SMSClient{
		log:      log,
		http:     &http.Client{Timeout: 10 * time.Second},
		settings: settings,
	}
}

func (c *SMSClient) Name() Channel { return ChannelSMS }

func (c *SMSClient) Send(ctx context.Context, msg Message) (string, error) {
	apiURL, key, from, err := c.creds(ctx)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", from)
	form.Set("Body", msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+key)

	var out struct {
		SID     string `json:"sid"`
		Message string `json:"message"`
	}
	if err := doJSON(c.http, req, &out); err != nil {
		return "", err
	}
	return out.SID, nil
}

func (c *SMSClient) creds(ctx context.Context) (apiURL, key, from string, err error) {
	if apiURL, err = c.settings.Get(ctx, SettingSMSAPIURL); err != nil || apiURL == "" {
		return "", "", "", fmt.Errorf("%w: %s", ErrChannelNotConfigured, SettingSMSAPIURL)
	}
	if key, err = c.settings.Get(ctx, SettingSMSAPIKey); err != nil || key == "" {
		return "", "", "", fmt.Errorf("%w: %s", ErrChannelNotConfigured, SettingSMSAPIKey)
	}
	if from, err = c.settings.Get(ctx, SettingSMSFrom); err != nil || from == "" {
		return "", "", "", fmt.Errorf("%w: %s", ErrChannelNotConfigured, SettingSMSFrom)
	}
	return apiURL, key, from, nil
}

// EmailClient posts JSON messages to the transactional email provider.
type EmailClient struct {
	log      *slog.Logger
	http     *http.Client
	settings SettingsProvider
}

func NewEmailClient(log *slog.Logger, settings SettingsProvider) *EmailClient {
	return &EmailClient{
		log:      log,
		http:     &http.Client{Timeout: 10 * time.Second},
		settings: settings,
	}
}

func (c *EmailClient) Name() Channel { return ChannelEmail }

func (c *EmailClient) Send(ctx context.Context, msg Message) (string, error) {
	apiURL, err := c.settings.Get(ctx, SettingEmailAPIURL)
	if err != nil || apiURL == "" {
		return "", fmt.Errorf("%w: %s", ErrChannelNotConfigured, SettingEmailAPIURL)
	}
	key, err := c.settings.Get(ctx, SettingEmailAPIKey)
	if err != nil || key == "" {
		return "", fmt.Errorf("%w: %s", ErrChannelNotConfigured, SettingEmailAPIKey)
	}
	from, err := c.settings.Get(ctx, SettingEmailFrom)
	if err != nil || from == "" {
		return "", fmt.Errorf("%w: %s", ErrChannelNotConfigured, SettingEmailFrom)
	}

	body, err := json.Marshal(map[string]string{
		"from":    from,
		"to":      msg.To,
		"subject": msg.Subject,
		"text":    msg.Body,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	var out struct {
		ID string `json:"id"`
	}
	if err := doJSON(c.http, req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New(strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}
