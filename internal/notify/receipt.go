package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/school-cart/internal/order"
)

// ErrReceiptRejected marks a permanent rejection by the receipt endpoint.
var ErrReceiptRejected = errors.New("notify: receipt rejected")

// Doer executes outbound requests; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ReceiptSender posts finished orders to the receipt collaborator.
type ReceiptSender struct {
	URL    string
	Secret string
	HTTP   Doer
	Now    func() time.Time
}

// Send delivers one order. 2xx responses succeed, 408 and 429 are treated as
// transient, and any other 4xx wraps ErrReceiptRejected.
func (s ReceiptSender) Send(ctx context.Context, o order.Order) (int, error) {
	if s.HTTP == nil {
		return 0, errors.New("notify: http client not configured")
	}
	ctx, span := otel.Tracer("notify.ReceiptSender").Start(ctx, "ReceiptSender.Send")
	defer span.End()
	orderID := o.ID.String()
	span.SetAttributes(attribute.String("order.id", orderID))

	if err := validateURL(s.URL); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("%w: %v", ErrReceiptRejected, err)
	}
	body, err := json.Marshal(o.Payload)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	ts := s.now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "school-cart-receipts/1.0")
	req.Header.Set("X-Event-ID", orderID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", o.IdemKey)
	if s.Secret != "" {
		req.Header.Set("X-Signature", ComputeSignature(s.Secret, ts, orderID, body))
	}

	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return resp.StatusCode, fmt.Errorf("%w: status=%d body=%q", ErrReceiptRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
	default:
		return resp.StatusCode, fmt.Errorf("notify: receipt endpoint status=%d", resp.StatusCode)
	}
}

func (s ReceiptSender) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("receipt url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("receipt url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http receipt url only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature is HMAC-SHA256 over "<ts>.<eventID>.<body>", hex encoded.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HttpClient returns an HTTP client configured for receipt delivery.
func HttpClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = insecureTLSConfig
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

var insecureTLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
