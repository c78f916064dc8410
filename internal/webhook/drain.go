package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/getsentry/sentry-go"
	"github.com/pusher/pusher-http-go/v5"
	"go.uber.org/zap"

	"wasmindexer/internal/metrics"
	"wasmindexer/internal/model"
	"wasmindexer/pkg/config"
)

// DrainStore is the persistence surface the drain loop needs in addition to
// Store.
type DrainStore interface {
	ListPendingWebhooks(ctx context.Context, limit int) ([]model.PendingWebhook, error)
	DeletePendingWebhook(ctx context.Context, id int64) error
	IncrementFailures(ctx context.Context, id int64) error
}

// Drainer delivers pending webhooks with bounded concurrency, deleting a row
// on success and incrementing its failure count otherwise (spec §4.6 /
// §7 DeliveryError).
type Drainer struct {
	store  DrainStore
	pusher *pusher.Client
	client *http.Client
	log    *zap.SugaredLogger
	pool   *workerpool.WorkerPool
	concurrency int
	metrics     *metrics.Collectors
}

// NewDrainer builds a Drainer. soketi may be the zero value if no Soketi
// endpoints are configured; Soketi deliveries will then fail immediately. m
// may be nil to disable instrumentation.
func NewDrainer(store DrainStore, soketi config.Config, concurrency int, log *zap.SugaredLogger, m *metrics.Collectors) *Drainer {
	var client *pusher.Client
	if soketi.Soketi.AppID != "" {
		client = &pusher.Client{
			AppID:  soketi.Soketi.AppID,
			Key:    soketi.Soketi.Key,
			Secret: soketi.Soketi.Secret,
			Host:   soketi.Soketi.Host,
			Secure: soketi.Soketi.UseTLS,
		}
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Drainer{
		store:       store,
		pusher:      client,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log,
		pool:        workerpool.New(concurrency),
		concurrency: concurrency,
		metrics:     m,
	}
}

// DrainOnce fetches up to limit pending deliveries and attempts each,
// dispatched across the worker pool, blocking until the batch completes.
func (d *Drainer) DrainOnce(ctx context.Context, limit int) error {
	pending, err := d.store.ListPendingWebhooks(ctx, limit)
	if err != nil {
		return fmt.Errorf("list pending webhooks: %w", err)
	}
	for _, w := range pending {
		w := w
		d.pool.Submit(func() {
			d.attempt(ctx, w)
		})
	}
	d.pool.StopWait()
	d.pool = workerpool.New(d.concurrency)
	return nil
}

func (d *Drainer) attempt(ctx context.Context, w model.PendingWebhook) {
	backoffDelay := time.Duration(w.Failures) * time.Second
	if backoffDelay > 0 {
		time.Sleep(backoffDelay)
	}

	err := d.fire(w)
	if err != nil {
		d.log.Warnw("webhook delivery failed", "id", w.ID, "failures", w.Failures+1, "error", err)
		sentry.CaptureException(err)
		if d.metrics != nil {
			d.metrics.WebhookFailed.Inc()
		}
		if incErr := d.store.IncrementFailures(ctx, w.ID); incErr != nil {
			d.log.Errorw("increment webhook failure count", "id", w.ID, "error", incErr)
		}
		return
	}
	if d.metrics != nil {
		d.metrics.WebhookDelivered.Inc()
	}
	if delErr := d.store.DeletePendingWebhook(ctx, w.ID); delErr != nil {
		d.log.Errorw("delete delivered webhook", "id", w.ID, "error", delErr)
	}
}

// fire delivers one pending webhook. Each endpoint-type case returns exactly
// once, so there is no fallthrough between the Url and Soketi branches.
func (d *Drainer) fire(w model.PendingWebhook) error {
	switch w.EndpointType {
	case "url":
		var ep urlEndpoint
		if err := json.Unmarshal(w.Endpoint, &ep); err != nil {
			return fmt.Errorf("decode url endpoint: %w", err)
		}
		return d.fireURL(ep, w.Value)
	case "soketi":
		var ep soketiEndpoint
		if err := json.Unmarshal(w.Endpoint, &ep); err != nil {
			return fmt.Errorf("decode soketi endpoint: %w", err)
		}
		return d.fireSoketi(ep, w.Value)
	default:
		return fmt.Errorf("unknown endpoint type %q", w.EndpointType)
	}
}

func (d *Drainer) fireURL(ep urlEndpoint, value json.RawMessage) error {
	req, err := http.NewRequest(ep.Method, ep.URL, bytes.NewReader(value))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip,deflate,compress")
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Drainer) fireSoketi(ep soketiEndpoint, value json.RawMessage) error {
	if d.pusher == nil {
		return fmt.Errorf("soketi endpoint configured but no pusher client available")
	}
	return d.pusher.Trigger(ep.Channel, ep.Event, json.RawMessage(value))
}
