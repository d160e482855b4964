package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts each event as JSON. Wrap it in Async: a POST blocks.
type Webhook struct {
	URL     string
	Client  *http.Client
	OnError func(error)
}

func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (w *Webhook) Emit(e Event) {
	if err := w.post(e); err != nil && w.OnError != nil {
		w.OnError(err)
	}
}

func (w *Webhook) post(e Event) error {
	if w.URL == "" {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}
