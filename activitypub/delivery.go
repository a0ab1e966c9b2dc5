package activitypub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/magpie-social/magpie/domain"
	"github.com/magpie-social/magpie/util"
)

// DeliveryStore is the slice of the store the queue worker drains.
type DeliveryStore interface {
	ReadPendingDeliveries(limit int) ([]domain.DeliveryQueueItem, error)
	UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error
	DeleteDelivery(id uuid.UUID) error
}

const (
	deliveryBatchSize   = 50
	deliveryTick        = 10 * time.Second
	deliveryConcurrency = 8
	deliveryMaxAttempts = 10
)

// backoffMinutes is the retry schedule; attempts beyond the table reuse the
// last entry until the give-up threshold.
var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// DeliveryWorker drains the outbound queue in the background. Deliveries
// within a batch run concurrently but bounded, so one slow peer delays its
// own retries and nothing else.
type DeliveryWorker struct {
	conf   *util.AppConfig
	store  DeliveryStore
	client *Client
}

func NewDeliveryWorker(conf *util.AppConfig, store DeliveryStore, client *Client) *DeliveryWorker {
	return &DeliveryWorker{conf: conf, store: store, client: client}
}

// Start runs the worker until the context is canceled.
func (w *DeliveryWorker) Start(ctx context.Context) {
	log.Println("Starting ActivityPub delivery worker...")

	ticker := time.NewTicker(deliveryTick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Println("DeliveryWorker: Stopped")
				return
			case <-ticker.C:
				w.processQueue(ctx)
			}
		}
	}()
}

func (w *DeliveryWorker) processQueue(ctx context.Context) {
	items, err := w.store.ReadPendingDeliveries(deliveryBatchSize)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(items))

	sem := make(chan struct{}, deliveryConcurrency)
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(item domain.DeliveryQueueItem) {
			defer wg.Done()
			defer func() { <-sem }()
			w.deliver(ctx, &item)
		}(item)
	}
	wg.Wait()
}

func (w *DeliveryWorker) deliver(ctx context.Context, item *domain.DeliveryQueueItem) {
	err := w.client.sendRaw(ctx, []byte(item.ActivityJSON), item.InboxURI)
	if err == nil {
		log.Printf("DeliveryWorker: Successfully delivered to %s", item.InboxURI)
		if err := w.store.DeleteDelivery(item.Id); err != nil {
			log.Printf("DeliveryWorker: Failed to remove delivered item: %v", err)
		}
		return
	}

	item.Attempts++
	if item.Attempts >= deliveryMaxAttempts {
		log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.InboxURI, item.Attempts)
		if err := w.store.DeleteDelivery(item.Id); err != nil {
			log.Printf("DeliveryWorker: Failed to drop dead item: %v", err)
		}
		return
	}

	minutes := backoffMinutes[min(item.Attempts-1, len(backoffMinutes)-1)]
	item.NextRetryAt = time.Now().Add(time.Duration(minutes) * time.Minute)
	log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
		item.InboxURI, item.Attempts, minutes, err)
	if err := w.store.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt); err != nil {
		log.Printf("DeliveryWorker: Failed to record attempt: %v", err)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
