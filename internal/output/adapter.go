// Package output pushes extracted SKUs to the downstream catalog system
// and reconciles unacknowledged pushes.
package output

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/haoran/skuflow/internal/domain"
)

// PushVerdict classifies one downstream push attempt.
type PushVerdict int

const (
	// PushConfirmed: the downstream acknowledged the record.
	PushConfirmed PushVerdict = iota
	// PushAssumed: accepted for async processing (202); the reconciler
	// confirms it later.
	PushAssumed
	// PushConflict: idempotency-key collision; the record is already
	// there, retry shortly to read the stored outcome.
	PushConflict
	// PushThrottled: downstream asked us to slow down (429).
	PushThrottled
	// PushPermanent: a 4xx the data itself caused; retrying cannot help.
	PushPermanent
	// PushTransient: 5xx or transport failure; retry with backoff.
	PushTransient
)

// Retry policy per verdict.
const (
	maxPushAttempts = 3

	conflictBackoff  = 2 * time.Second
	transientBackoff = 5 * time.Second
	transientCap     = 300 * time.Second
)

// throttleBackoffs is the fixed 429 ladder, indexed by attempt.
var throttleBackoffs = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}

// ExportSKU is the wire shape of one pushed record.
type ExportSKU struct {
	IdempotencyKey string                 `json:"idempotency_key"`
	SKUID          string                 `json:"sku_id"`
	Revision       int                    `json:"revision"`
	ProductName    string                 `json:"product_name"`
	ModelNumber    string                 `json:"model_number,omitempty"`
	Price          string                 `json:"price,omitempty"`
	Unit           string                 `json:"unit,omitempty"`
	Attributes     map[string]interface{} `json:"attributes,omitempty"`
	ImageURLs      []string               `json:"image_urls,omitempty"`
	SourcePage     int                    `json:"source_page"`
	Confidence     float64                `json:"confidence"`
}

// Adapter is the downstream catalog client.
type Adapter struct {
	client   *resty.Client
	endpoint string
}

// NewAdapter creates a downstream client.
// Parameters:
//   - endpoint: base URL of the catalog import API.
//   - apiKey: bearer token; empty disables auth.
//   - timeout: per-request timeout.
// Returns:
//   - *Adapter: ready client.
func NewAdapter(endpoint, apiKey string, timeout time.Duration) *Adapter {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Adapter{client: client, endpoint: endpoint}
}

// Push sends one record. The verdict tells the importer how to proceed;
// err carries detail for the record's error log.
func (a *Adapter) Push(ctx context.Context, sku *ExportSKU) (PushVerdict, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", sku.IdempotencyKey).
		SetBody(sku).
		Post(a.endpoint + "/v1/skus")
	if err != nil {
		return PushTransient, fmt.Errorf("push %s: %w", sku.IdempotencyKey, err)
	}
	return classify(resp.StatusCode()), statusErr(resp.StatusCode(), sku.IdempotencyKey)
}

// QueryStatus asks the downstream for the stored outcome of a key,
// used by the reconciler for ASSUMED records.
func (a *Adapter) QueryStatus(ctx context.Context, idemKey string) (domain.ImportConfirmation, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		Get(a.endpoint + "/v1/skus/" + idemKey)
	if err != nil {
		return domain.ImportAssumed, err
	}
	switch {
	case resp.StatusCode() == 200:
		return domain.ImportConfirmed, nil
	case resp.StatusCode() == 404:
		return domain.ImportFailed, fmt.Errorf("downstream lost record %s", idemKey)
	default:
		return domain.ImportAssumed, statusErr(resp.StatusCode(), idemKey)
	}
}

func classify(status int) PushVerdict {
	switch {
	case status == 202:
		return PushAssumed
	case status >= 200 && status < 300:
		return PushConfirmed
	case status == 409:
		return PushConflict
	case status == 429:
		return PushThrottled
	case status >= 400 && status < 500:
		return PushPermanent
	default:
		return PushTransient
	}
}

func statusErr(status int, key string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return fmt.Errorf("downstream returned %d for %s", status, key)
}

// backoffFor returns the wait before the next attempt, or false when
// the verdict (or attempt count) forbids another try.
func backoffFor(verdict PushVerdict, attempt int) (time.Duration, bool) {
	if attempt >= maxPushAttempts {
		return 0, false
	}
	switch verdict {
	case PushConflict:
		// Short exponential wait while the downstream settles the
		// earlier write under the same idempotency key.
		return conflictBackoff << uint(attempt), true
	case PushThrottled:
		idx := attempt
		if idx >= len(throttleBackoffs) {
			idx = len(throttleBackoffs) - 1
		}
		return throttleBackoffs[idx], true
	case PushTransient:
		d := transientBackoff << uint(attempt)
		if d > transientCap {
			d = transientCap
		}
		return d, true
	default:
		return 0, false
	}
}
