package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkout-backend/internal/domain"
)

// Sender posts transactional mail to a Resend-compatible API. With Mock set
// nothing leaves the process; messages are logged and given a mock_ id.
type Sender struct {
	APIKey  string
	BaseURL string
	From    string
	Mock    bool
	HTTP    *http.Client
	Log     *slog.Logger
}

type sendReq struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	Tags    []tag    `json:"tags,omitempty"`
}

type tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type sendResp struct {
	ID string `json:"id"`
}

func (s *Sender) Send(ctx context.Context, msg domain.EmailMessage) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", fmt.Errorf("email recipient required")
	}
	if s.Mock {
		id := "mock_" + uuid.NewString()
		s.logger().Info("mock email sent", "id", id, "to", msg.To, "subject", msg.Subject)
		return id, nil
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return "", fmt.Errorf("email api key not configured")
	}
	body := sendReq{From: s.From, To: []string{msg.To}, Subject: msg.Subject, Text: msg.Text}
	for k, v := range msg.Tags {
		body.Tags = append(body.Tags, tag{Name: k, Value: v})
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = "https://api.resend.com"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/emails", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", "application/json")
	hc := s.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("email provider error %d: %s", resp.StatusCode, strings.TrimSpace(string(out)))
	}
	var sr sendResp
	if err := json.Unmarshal(out, &sr); err != nil {
		return "", fmt.Errorf("decode email response: %w", err)
	}
	return sr.ID, nil
}

func (s *Sender) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
