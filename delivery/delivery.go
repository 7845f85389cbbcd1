// Package delivery hands encrypted OTP codes off to out-of-band
// channels. Real email/SMS gateways sit behind the webhook deliverer;
// the log deliverer exists for development and tests.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
)

// LogDeliverer writes the encrypted OTP to the log instead of sending
// it anywhere. The code is already encrypted to the client's key, so
// logging it leaks nothing, but this is still only meant for
// development setups.
type LogDeliverer struct {
	Log *slog.Logger
}

func (d *LogDeliverer) Deliver(ctx context.Context, method interfaces.DeliveryMethod, address, projectName, encryptedOTP string) error {
	d.Log.Info("OTP delivery (log only)",
		"method", string(method),
		"address", address,
		"project", projectName,
		"encryptedOtp", encryptedOTP,
	)
	return nil
}

// WebhookDeliverer POSTs delivery jobs to an external gateway that owns
// the actual email/SMS transport.
type WebhookDeliverer struct {
	URL    string
	Client *http.Client
	Log    *slog.Logger
}

// NewWebhookDeliverer creates a deliverer posting to the given URL.
func NewWebhookDeliverer(url string, log *slog.Logger) *WebhookDeliverer {
	return &WebhookDeliverer{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Log:    log,
	}
}

type deliveryJob struct {
	MessageID    string `json:"messageId"`
	Method       string `json:"method"`
	Address      string `json:"address"`
	ProjectName  string `json:"projectName"`
	EncryptedOTP string `json:"encryptedOtp"`
}

func (d *WebhookDeliverer) Deliver(ctx context.Context, method interfaces.DeliveryMethod, address, projectName, encryptedOTP string) error {
	messageID := uuid.New().String()
	body, err := json.Marshal(deliveryJob{
		MessageID:    messageID,
		Method:       string(method),
		Address:      address,
		ProjectName:  projectName,
		EncryptedOTP: encryptedOTP,
	})
	if err != nil {
		return fmt.Errorf("could not encode delivery job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not initialize delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach delivery gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delivery gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	d.Log.Debug("OTP delivery dispatched", "messageId", messageID, "method", string(method))
	return nil
}
