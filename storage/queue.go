package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"kanban-board/domain"
)

// queueMessage is a received message together with its delete handle.
type queueMessage struct {
	id         string
	popReceipt string
	text       string
}

type triageQueue interface {
	enqueue(ctx context.Context, text string) error
	dequeue(ctx context.Context) (*queueMessage, error)
	remove(ctx context.Context, id, popReceipt string) error
}

// TriageDelivery is a dequeued triage request. It must be completed once handled.
type TriageDelivery struct {
	Request    domain.TriageRequest
	messageID  string
	popReceipt string
}

// EnqueueTriage schedules a triage pass.
func (s *Storage) EnqueueTriage(ctx context.Context, dryRun bool) (domain.TriageRequest, error) {
	if s.triage == nil {
		return domain.TriageRequest{}, fmt.Errorf("%w: triage queue not configured", domain.ErrStoreUnavailable)
	}
	req := domain.TriageRequest{ID: uuid.NewString(), DryRun: dryRun, RequestedAt: s.now().UTC()}
	data, err := sonic.Marshal(req)
	if err != nil {
		return domain.TriageRequest{}, err
	}
	if err := s.triage.enqueue(ctx, string(data)); err != nil {
		return domain.TriageRequest{}, classify(err)
	}
	return req, nil
}

// NextTriageRequest returns the next pending request, or nil when the queue is
// empty. Malformed messages are dropped.
func (s *Storage) NextTriageRequest(ctx context.Context) (*TriageDelivery, error) {
	if s.triage == nil {
		return nil, fmt.Errorf("%w: triage queue not configured", domain.ErrStoreUnavailable)
	}
	for {
		msg, err := s.triage.dequeue(ctx)
		if err != nil {
			return nil, classify(err)
		}
		if msg == nil {
			return nil, nil
		}
		var req domain.TriageRequest
		if err := sonic.UnmarshalString(msg.text, &req); err != nil {
			s.logger.WithError(err).WithField("message", msg.id).Warn("dropping malformed triage request")
			if err := s.triage.remove(ctx, msg.id, msg.popReceipt); err != nil {
				return nil, classify(err)
			}
			continue
		}
		return &TriageDelivery{Request: req, messageID: msg.id, popReceipt: msg.popReceipt}, nil
	}
}

// CompleteTriageRequest removes a handled request from the queue.
func (s *Storage) CompleteTriageRequest(ctx context.Context, d *TriageDelivery) error {
	if s.triage == nil {
		return fmt.Errorf("%w: triage queue not configured", domain.ErrStoreUnavailable)
	}
	if err := s.triage.remove(ctx, d.messageID, d.popReceipt); err != nil {
		return classify(err)
	}
	s.logger.WithFields(log.Fields{"request": d.Request.ID, "age": time.Since(d.Request.RequestedAt)}).Debug("triage request completed")
	return nil
}

type azQueue struct {
	client *azqueue.QueueClient
}

func (q azQueue) enqueue(ctx context.Context, text string) error {
	_, err := q.client.EnqueueMessage(ctx, text, nil)
	return err
}

func (q azQueue) dequeue(ctx context.Context) (*queueMessage, error) {
	resp, err := q.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &queueMessage{}
	if m.MessageID != nil {
		msg.id = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.popReceipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		msg.text = *m.MessageText
	}
	return msg, nil
}

func (q azQueue) remove(ctx context.Context, id, popReceipt string) error {
	_, err := q.client.DeleteMessage(ctx, id, popReceipt, nil)
	return err
}
