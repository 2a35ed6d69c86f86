package output

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haoran/skuflow/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   PushVerdict
	}{
		{200, PushConfirmed},
		{201, PushConfirmed},
		{202, PushAssumed},
		{409, PushConflict},
		{429, PushThrottled},
		{400, PushPermanent},
		{422, PushPermanent},
		{500, PushTransient},
		{503, PushTransient},
	}
	for _, tt := range tests {
		if got := classify(tt.status); got != tt.want {
			t.Errorf("classify(%d) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestPushSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAdapter(srv.URL, "", 5*time.Second)
	verdict, err := a.Push(context.Background(), &ExportSKU{
		IdempotencyKey: "abc12345_001_000_v1",
		SKUID:          "abc12345_001_000",
		Revision:       1,
		ProductName:    "办公椅",
	})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if verdict != PushConfirmed {
		t.Errorf("verdict = %d, want confirmed", verdict)
	}
	if gotKey != "abc12345_001_000_v1" {
		t.Errorf("Idempotency-Key = %q", gotKey)
	}
	if gotPath != "/v1/skus" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestPushErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	a := NewAdapter(srv.URL, "", 5*time.Second)
	verdict, err := a.Push(context.Background(), &ExportSKU{IdempotencyKey: "k_v1"})
	if verdict != PushPermanent {
		t.Errorf("verdict = %d, want permanent", verdict)
	}
	if err == nil {
		t.Error("expected an error for a 422 response")
	}
}

func TestPushUnreachableIsTransient(t *testing.T) {
	a := NewAdapter("http://127.0.0.1:1", "", 200*time.Millisecond)
	verdict, err := a.Push(context.Background(), &ExportSKU{IdempotencyKey: "k_v1"})
	if verdict != PushTransient {
		t.Errorf("verdict = %d, want transient", verdict)
	}
	if err == nil {
		t.Error("expected a transport error")
	}
}

func TestQueryStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    domain.ImportConfirmation
		wantErr bool
	}{
		{"found", 200, domain.ImportConfirmed, false},
		{"lost", 404, domain.ImportFailed, true},
		{"unavailable", 503, domain.ImportAssumed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/skus/k_v1" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			a := NewAdapter(srv.URL, "", 5*time.Second)
			got, err := a.QueryStatus(context.Background(), "k_v1")
			if got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackoffPolicy(t *testing.T) {
	tests := []struct {
		name    string
		verdict PushVerdict
		attempt int
		want    time.Duration
		retry   bool
	}{
		{"conflict reads back shortly", PushConflict, 0, 2 * time.Second, true},
		{"conflict wait doubles", PushConflict, 1, 4 * time.Second, true},
		{"conflict wait doubles again", PushConflict, 2, 8 * time.Second, true},
		{"throttle ladder first", PushThrottled, 0, 30 * time.Second, true},
		{"throttle ladder second", PushThrottled, 1, 60 * time.Second, true},
		{"throttle ladder third", PushThrottled, 2, 120 * time.Second, true},
		{"transient doubles", PushTransient, 1, 10 * time.Second, true},
		{"transient capped", PushTransient, 100, 0, false},
		{"permanent never retries", PushPermanent, 0, 0, false},
		{"confirmed never retries", PushConfirmed, 0, 0, false},
		{"attempts exhausted", PushTransient, maxPushAttempts, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, retry := backoffFor(tt.verdict, tt.attempt)
			if retry != tt.retry {
				t.Fatalf("retry = %v, want %v", retry, tt.retry)
			}
			if retry && got != tt.want {
				t.Errorf("backoff = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTransientBackoffNeverExceedsCap(t *testing.T) {
	for attempt := 0; attempt < maxPushAttempts; attempt++ {
		d, retry := backoffFor(PushTransient, attempt)
		if retry && d > transientCap {
			t.Errorf("attempt %d backoff %s exceeds cap", attempt, d)
		}
	}
}
