package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"botarena/internal/common/mq"
	"botarena/internal/coordinator/model"
	appErr "botarena/pkg/errors"
)

// Event types consumed by the leaderboard layer.
const (
	EventTaskFinal     = "task.final"
	EventRatingChanged = "rating.changed"
)

// TaskEvent is the payload published when a task reaches a terminal state.
type TaskEvent struct {
	Type      string            `json:"type"`
	UserID    int64             `json:"user_id"`
	Status    model.TaskStatus  `json:"status"`
	Output    *model.GameOutput `json:"game_output,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// RatingEvent is the payload published after a ranked match updates ratings.
type RatingEvent struct {
	Type      string            `json:"type"`
	Ratings   []model.BotRating `json:"ratings"`
	CreatedAt int64             `json:"created_at"`
}

// EventPublisher publishes task and rating events for async consumers.
type EventPublisher interface {
	PublishTaskFinal(ctx context.Context, task *model.TaskRecord) error
	PublishRatingChange(ctx context.Context, ratings []model.BotRating) error
}

// MQEventPublisher publishes events to a message queue.
type MQEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQEventPublisher creates a new MQ event publisher.
func NewMQEventPublisher(producer mq.Producer, topic string) *MQEventPublisher {
	return &MQEventPublisher{producer: producer, topic: topic}
}

// PublishTaskFinal publishes a terminal task status event.
func (p *MQEventPublisher) PublishTaskFinal(ctx context.Context, task *model.TaskRecord) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	if task == nil {
		return appErr.ValidationError("task", "required")
	}
	event := TaskEvent{
		Type:      EventTaskFinal,
		UserID:    task.UserID,
		Status:    task.Status,
		Output:    task.GameOutput,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal task event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = strconv.FormatInt(task.UserID, 10)
	message.SetHeader("event-type", EventTaskFinal)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish task event failed")
	}
	return nil
}

// PublishRatingChange publishes updated ratings after a ranked match.
func (p *MQEventPublisher) PublishRatingChange(ctx context.Context, ratings []model.BotRating) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if len(ratings) == 0 {
		return appErr.ValidationError("ratings", "required")
	}
	event := RatingEvent{
		Type:      EventRatingChanged,
		Ratings:   ratings,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal rating event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.SetHeader("event-type", EventRatingChanged)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish rating event failed")
	}
	return nil
}
