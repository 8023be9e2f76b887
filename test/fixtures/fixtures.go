package fixtures

import (
	"time"

	"github.com/luzzy/message-sync/internal/model"
)

var (
	ValidAddresses = []string{
		"+1234567890",
		"+9876543210",
		"+4412345678",
		"+33123456789",
		"+81312345678",
	}

	InvalidAddresses = []string{
		"",
		"   ",
		"\n\t",
	}

	ValidBodies = []string{
		"Hello World",
		"Test message",
		"Short",
		"This is a longer message with more content for testing purposes",
	}
)

func NewInboundMessage(threadID int64, address, body string, at time.Time) *model.Message {
	return &model.Message{
		ThreadID:  threadID,
		Address:   address,
		Direction: model.DirectionInbound,
		Body:      body,
		Date:      at.Unix(),
		DateMs:    at.UnixMilli(),
		Status:    model.MessageStatusDelivered,
	}
}

func NewOutboundMessage(threadID int64, address, body string, at time.Time) *model.Message {
	return &model.Message{
		ThreadID:  threadID,
		Address:   address,
		Direction: model.DirectionOutbound,
		Body:      body,
		Date:      at.Unix(),
		DateMs:    at.UnixMilli(),
		Status:    model.MessageStatusSent,
		Read:      true,
	}
}

func SendRequestTo(address, body string) model.SendRequest {
	return model.SendRequest{
		Addresses: []string{address},
		Body:      body,
	}
}

func MessageFilterByThread(threadID int64) model.MessageFilter {
	return model.MessageFilter{
		ThreadID: &threadID,
		Limit:    50,
	}
}

func MessageFilterByTimeRange(threadID int64, from, to time.Time) model.MessageFilter {
	return model.MessageFilter{
		ThreadID: &threadID,
		From:     &from,
		To:       &to,
		Limit:    50,
	}
}
