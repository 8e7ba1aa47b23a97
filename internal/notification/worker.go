// Package notification delivers "room available" web pushes to browsers
// subscribed to a room.
package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"venue-backend/internal/model"
)

// Sender sends one web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender sends through webpush-go.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans room availability out to push subscribers. It implements
// room.AvailabilityNotifier.
type WorkerPool struct {
	size    int
	jobs    chan string
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
	log     zerolog.Logger
}

// NewWorkerPool creates a pool of size workers.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, logger zerolog.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     logger.With().Str("component", "push").Logger(),
	}
}

// Start launches the workers. They exit when ctx is done.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case resourceID := <-wp.jobs:
			wp.sendForRoom(ctx, resourceID)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

// RoomAvailable queues a push for resourceID. The sweep that calls it must
// never stall on push delivery, so a full queue drops the job.
func (wp *WorkerPool) RoomAvailable(ctx context.Context, resourceID string) {
	select {
	case wp.jobs <- resourceID:
	case <-ctx.Done():
	default:
		wp.log.Warn().Str("resource", resourceID).Msg("push queue full, dropping availability notice")
	}
}

// Message is the payload pushed for resourceID.
func Message(resourceID string) string {
	return fmt.Sprintf("Room %s is available!", resourceID)
}

func (wp *WorkerPool) sendForRoom(ctx context.Context, resourceID string) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN room_subscriptions rs ON rs.endpoint = push_subscriptions.endpoint").
		Where("rs.resource_id = ?", resourceID).
		Find(&subscriptions).Error
	if err != nil {
		wp.log.Error().Err(err).Str("resource", resourceID).Msg("failed to load subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	wp.log.Info().Str("resource", resourceID).Int("subscriptions", len(subscriptions)).Msg("sending availability pushes")
	payload := []byte(Message(resourceID))
	for _, sub := range subscriptions {
		wp.send(ctx, sub, payload)
	}
}

func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("push failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
