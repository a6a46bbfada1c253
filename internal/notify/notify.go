// Package notify implements the at-least-once completion-notification
// protocol: publish a JSON bundle-completion message onto SQS, guarded
// by a durable pending record in the key-value store so a crash between
// "stored" and "published" is replayed on the next run.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/ocerrors"
)

// pendingTTL bounds how long an unresolved pending record survives; a
// stuck record past this is almost certainly from a recipe that was
// retired, not a transient outage.
const pendingTTL = 30 * 24 * time.Hour

// PendingRecord is the durable artifact written before every publish
// attempt, keyed "sqs_notifications:pending:{recipe_id}:{bid}".
type PendingRecord struct {
	BundleRef model.BundleRef        `json:"bundle_ref"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// CompletionMessage is the JSON payload emitted onto the external bus.
type CompletionMessage struct {
	BundleID             string                 `json:"bundle_id"`
	RecipeID              string                 `json:"recipe_id"`
	PrimaryURL           string                 `json:"primary_url"`
	ResourcesCount       int                    `json:"resources_count"`
	StorageKey           string                 `json:"storage_key,omitempty"`
	CompletionTimestamp string                 `json:"completion_timestamp"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

// sender abstracts the transport so SQSPublisher's durability bookkeeping
// can be tested against an in-memory sender as well as the real client.
type sender interface {
	Send(ctx context.Context, queueURL string, msg CompletionMessage) error
}

func pendingKey(recipeID string, bid model.BID) string {
	return fmt.Sprintf("sqs_notifications:pending:%s:%s", recipeID, bid)
}

// Publisher is the loader-facing contract; SQSPublisher is the only
// production implementation.
type Publisher interface {
	Publish(ctx context.Context, ref model.BundleRef, recipeID string) error
	// ReplayPending scans pending records for recipeID and re-attempts
	// publish for each, deleting the record on success and skipping
	// malformed records without deleting them. It returns the refs that
	// were successfully (re-)published so the caller can re-run
	// completion hooks on them.
	ReplayPending(ctx context.Context, recipeID string) ([]model.BundleRef, error)
}

// SQSPublisher implements Publisher against a named SQS queue, with
// pending-record bookkeeping in a kvstore.Store.
type SQSPublisher struct {
	queueURL string
	store    kvstore.Store
	send     sender
	logger   logging.Logger
}

// NewSQSPublisher builds an SQSPublisher bound to queueURL.
func NewSQSPublisher(queueURL string, store kvstore.Store, send sender, logger logging.Logger) *SQSPublisher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &SQSPublisher{queueURL: queueURL, store: store, send: send, logger: logger}
}

// Publish writes the pending record, attempts the send, and deletes the
// record on success. A send failure is propagated, with the pending
// record left in place for a future ReplayPending.
func (p *SQSPublisher) Publish(ctx context.Context, ref model.BundleRef, recipeID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	record := PendingRecord{BundleRef: ref, Metadata: ref.Meta, Timestamp: now}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("notify: marshal pending record: %w", err)
	}
	if err := p.store.Put(ctx, pendingKey(recipeID, ref.BID), string(data), pendingTTL); err != nil {
		return fmt.Errorf("notify: write pending record: %w", ocerrors.ErrStorageFailed)
	}

	msg := CompletionMessage{
		BundleID:            string(ref.BID),
		RecipeID:            recipeID,
		PrimaryURL:          ref.PrimaryURL,
		ResourcesCount:      ref.ResourcesCount,
		StorageKey:          ref.StorageKey,
		CompletionTimestamp: now,
		Metadata:            ref.Meta,
	}

	if err := p.send.Send(ctx, p.queueURL, msg); err != nil {
		return fmt.Errorf("notify: publish bundle %s: %w", ref.BID, ocerrors.ErrPublishFailed)
	}

	if err := p.store.Delete(ctx, pendingKey(recipeID, ref.BID)); err != nil {
		p.logger.Warn("notify: failed to delete pending record after successful publish", logging.Fields{"bid": string(ref.BID), "recipe_id": recipeID, "error": err.Error()})
	}
	return nil
}

// ReplayPending implements the startup recovery scan.
func (p *SQSPublisher) ReplayPending(ctx context.Context, recipeID string) ([]model.BundleRef, error) {
	prefix := fmt.Sprintf("sqs_notifications:pending:%s:", recipeID)
	keys, err := p.store.Scan(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("notify: scan pending records: %w", err)
	}

	var replayed []model.BundleRef
	for _, key := range keys {
		raw, found, err := p.store.Get(ctx, key, "")
		if err != nil {
			p.logger.Warn("notify: failed to read pending record", logging.Fields{"key": key, "error": err.Error()})
			continue
		}
		if !found {
			continue
		}

		var record PendingRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			p.logger.Warn("notify: skipping malformed pending record", logging.Fields{"key": key, "error": err.Error()})
			continue
		}

		if err := p.Publish(ctx, record.BundleRef, recipeID); err != nil {
			p.logger.Warn("notify: replay publish failed, pending record retained", logging.Fields{"key": key, "error": err.Error()})
			continue
		}
		replayed = append(replayed, record.BundleRef)
	}
	return replayed, nil
}
