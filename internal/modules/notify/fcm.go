package notify

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"
)

// Sender is the subset of *messaging.Client used here.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM pushes transitions to a topic the operator dashboards subscribe to.
// Only events operators act on are pushed.
type FCM struct {
	client Sender
	topic  string
}

func NewFCM(client Sender, topic string) *FCM {
	if topic == "" {
		topic = "operators"
	}
	return &FCM{client: client, topic: topic}
}

func (f *FCM) Notify(ctx context.Context, e Event) error {
	msg := f.message(e)
	if msg == nil {
		return nil
	}
	if _, err := f.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM %s for %s: %w", e.Kind, e.RequestID, err)
	}
	return nil
}

func (f *FCM) message(e Event) *messaging.Message {
	data := map[string]string{
		"type":       string(e.Kind),
		"request_id": string(e.RequestID),
		"at":         strconv.FormatInt(e.At, 10),
	}
	msg := &messaging.Message{
		Topic:   f.topic,
		Data:    data,
		Android: &messaging.AndroidConfig{Priority: "high"},
	}
	switch e.Kind {
	case RequestCreated:
		msg.Notification = &messaging.Notification{
			Title: "New ride request",
			Body:  "A rider is waiting for pickup",
		}
	case RequestAccepted, RequestClosed:
		data["status"] = e.Status
		data["reason"] = e.Reason
	case RideCompleted, RideManualReview:
		data["ride_id"] = string(e.RideID)
		data["operator_id"] = string(e.OperatorID)
		data["status"] = e.Status
	default:
		return nil
	}
	return msg
}
