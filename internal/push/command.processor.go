package push

import (
	"context"
	"encoding/json"
	"time"

	"github.com/luzzy/message-sync/internal/dedup"
	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/internal/queue"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/luzzy/message-sync/pkg/prom"
	"github.com/pkg/errors"
)

// Command is the inbound push payload: a remote instruction to deliver
// message to the recipient.
type Command struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (c *Command) Validate() error {
	if c.To == "" {
		return errors.New("missing recipient")
	}
	if c.Message == "" {
		return errors.New("missing message body")
	}
	return nil
}

// Sender is the outbound delivery engine surface the processor drives.
type Sender interface {
	Send(ctx context.Context, req model.SendRequest) (*model.Message, error)
}

// DraftSaver routes the command into a saved draft instead of a send.
type DraftSaver interface {
	Save(ctx context.Context, addresses []string, body string) (*model.Conversation, error)
}

// ModeSource answers which route a thread's commands take.
type ModeSource interface {
	Get(threadID int64) model.SendMode
}

// CommandProcessor routes deduplicated push commands by the thread's send
// mode: SEND hands the body to the delivery engine, DRAFT saves it and
// notifies.
type CommandProcessor struct {
	filter *dedup.Filter
	modes  ModeSource
	sender Sender
	drafts DraftSaver
	guard  *RedeliveryGuard
}

func NewCommandProcessor(filter *dedup.Filter, modes ModeSource, sender Sender, drafts DraftSaver) *CommandProcessor {
	return &CommandProcessor{
		filter: filter,
		modes:  modes,
		sender: sender,
		drafts: drafts,
	}
}

// WithRedeliveryGuard adds cross-restart redelivery suppression on top of
// the in-memory duplicate filter.
func (p *CommandProcessor) WithRedeliveryGuard(guard *RedeliveryGuard) *CommandProcessor {
	p.guard = guard
	return p
}

func (p *CommandProcessor) GetType() string {
	return "push-command"
}

// Process handles one queued push command. Malformed payloads are
// permanent errors: they are logged and acked, never retried. Duplicate
// commands within the suppression window are deliberate no-ops. Transient
// routing failures return an error so the queue redelivers.
func (p *CommandProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	if p.guard != nil {
		switch err := p.guard.Begin(queueMessage.ID); {
		case errors.Is(err, ErrAlreadyHandled):
			logger.Info("redelivered push command suppressed", "queue_id", queueMessage.ID)
			prom.IncPushCommand("redelivered")
			return nil
		case errors.Is(err, ErrHandlingLocked):
			return err // another consumer owns it; let the broker retry
		case err != nil:
			logger.Warn("redelivery guard unavailable, continuing", "queue_id", queueMessage.ID, "error", err)
		}
	}

	err := p.process(ctx, queueMessage)
	if p.guard != nil {
		if err != nil {
			p.guard.Release(queueMessage.ID)
		} else {
			p.guard.Done(queueMessage.ID)
		}
	}
	return err
}

func (p *CommandProcessor) process(ctx context.Context, queueMessage *queue.Message) error {
	var cmd Command
	if err := json.Unmarshal(queueMessage.Data, &cmd); err != nil {
		logger.Error("malformed push payload, abandoning", "queue_id", queueMessage.ID, "error", err)
		prom.IncPushCommand("invalid")
		return nil // ACK: retrying cannot fix a malformed payload
	}
	if err := cmd.Validate(); err != nil {
		logger.Error("invalid push command, abandoning", "queue_id", queueMessage.ID, "error", err)
		prom.IncPushCommand("invalid")
		return nil
	}

	fingerprint := dedup.Fingerprint(cmd.To, cmd.Message)
	if !p.filter.ShouldProcess(fingerprint, time.Now()) {
		logger.Info("duplicate push command suppressed", "to", cmd.To)
		prom.IncPushCommand("duplicate")
		return nil
	}

	threadID := model.DeriveThreadID([]string{cmd.To})
	mode := p.modes.Get(threadID)

	if mode == model.SendModeDraft {
		if _, err := p.drafts.Save(ctx, []string{cmd.To}, cmd.Message); err != nil {
			logger.Error("failed to save command as draft", "to", cmd.To, "error", err)
			// clear the fingerprint so the broker's redelivery is not
			// mistaken for a duplicate and swallowed
			p.filter.Forget(fingerprint)
			return errors.Wrap(err, "save draft")
		}
		prom.IncPushCommand("draft")
		logger.Info("push command routed to draft", "thread_id", threadID)
		return nil
	}

	if _, err := p.sender.Send(ctx, model.SendRequest{
		Addresses: []string{cmd.To},
		Body:      cmd.Message,
	}); err != nil {
		logger.Error("failed to send push command", "to", cmd.To, "error", err)
		prom.IncPushCommand("failed")
		p.filter.Forget(fingerprint)
		return errors.Wrap(err, "send")
	}
	prom.IncPushCommand("sent")
	logger.Info("push command sent", "thread_id", threadID)
	return nil
}
