package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSmsSender posts messages to an SMS gateway as a url-encoded form with
// the fields api_key, to, from and message.
type HTTPSmsSender struct {
	httpClient  *http.Client
	apiURL      string
	apiKey      string
	sender      string
	countryCode string
}

func NewHTTPSmsSender(apiURL, apiKey, sender, countryCode string, timeout time.Duration) *HTTPSmsSender {
	return &HTTPSmsSender{
		httpClient:  &http.Client{Timeout: timeout},
		apiURL:      apiURL,
		apiKey:      apiKey,
		sender:      sender,
		countryCode: countryCode,
	}
}

func (s *HTTPSmsSender) SendOtp(ctx context.Context, phoneNumber, code string) error {
	message := fmt.Sprintf("Your WaterDelivery verification code is: %s. Valid for 3 minutes.", code)
	return s.send(ctx, FormatPhoneNumber(phoneNumber, s.countryCode), message)
}

func (s *HTTPSmsSender) send(ctx context.Context, to, message string) error {
	data := url.Values{}
	data.Set("api_key", s.apiKey)
	data.Set("to", to)
	data.Set("from", s.sender)
	data.Set("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("SMS gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// FormatPhoneNumber prefixes numbers lacking a "+" with countryCode,
// dropping a leading trunk "0".
func FormatPhoneNumber(phoneNumber, countryCode string) string {
	if strings.HasPrefix(phoneNumber, "+") || countryCode == "" {
		return phoneNumber
	}
	return countryCode + strings.TrimPrefix(phoneNumber, "0")
}
