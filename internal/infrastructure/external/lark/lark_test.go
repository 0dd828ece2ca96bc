package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

type sentMessage struct {
	receiveIDType, receiveID, msgType, content string
}

type mockCreator struct {
	sent []sentMessage
	err  error
}

func (m *mockCreator) CreateMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sentMessage{receiveIDType, receiveID, msgType, content})
	return "om_1", nil
}

type mockSender struct {
	sendCardFunc func(ctx context.Context, chatID string, card interface{}) error
	cards        []interface{}
}

func (m *mockSender) SendText(ctx context.Context, chatID, content string) error { return nil }

func (m *mockSender) SendCard(ctx context.Context, chatID string, card interface{}) error {
	if m.sendCardFunc != nil {
		return m.sendCardFunc(ctx, chatID, card)
	}
	m.cards = append(m.cards, card)
	return nil
}

func TestMessenger_SendText(t *testing.T) {
	api := &mockCreator{}
	m := NewMessenger(api, nil)

	require.NoError(t, m.SendText(context.Background(), "oc_1", `deploy "api"`+"\n"))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "chat_id", api.sent[0].receiveIDType)
	assert.Equal(t, "text", api.sent[0].msgType)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(api.sent[0].content), &body))
	assert.Equal(t, `deploy "api"`+"\n", body["text"])

	assert.Error(t, m.SendText(context.Background(), "", "x"))
	assert.Error(t, m.SendText(context.Background(), "oc_1", ""))
}

func TestMessenger_SendCard(t *testing.T) {
	api := &mockCreator{}
	m := NewMessenger(api, nil)

	require.NoError(t, m.SendCard(context.Background(), "oc_1", Card{Header: CardHeader{Template: "red"}}))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "interactive", api.sent[0].msgType)
	assert.Contains(t, api.sent[0].content, `"template":"red"`)

	assert.Error(t, m.SendCard(context.Background(), "oc_1", nil))

	api.err = errors.New("rate limited")
	assert.Error(t, m.SendCard(context.Background(), "oc_1", Card{}))
}

func TestNotifier_ApprovalRequested(t *testing.T) {
	sender := &mockSender{}
	n := NewNotifier(sender, "oc_approvers", nil)

	req := &entity.ApprovalRequest{
		ID:        "req-1",
		TaskIDs:   []string{"migrate"},
		ExpiresAt: time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC),
		Snapshot: entity.RiskSnapshot{
			Command:                "psql -f migrate.sql",
			RiskScore:              82,
			RiskZone:               entity.ZoneRed,
			ManualOverrideRequired: true,
			Warnings:               []string{"change is not reversible"},
		},
	}
	require.NoError(t, n.NotifyApprovalRequested(context.Background(), req))
	require.Len(t, sender.cards, 1)

	card := sender.cards[0].(Card)
	assert.Equal(t, "red", card.Header.Template)
	assert.Equal(t, "Approval needed: migrate", card.Header.Title.Content)
	assert.Contains(t, card.Elements[0].Text.Content, "Manual override required")
	assert.Contains(t, card.Elements[0].Text.Content, "2025-03-01 13:00:00 UTC")
	assert.Equal(t, "hr", card.Elements[1].Tag)
}

func TestNotifier_SafetyViolation(t *testing.T) {
	sendErr := errors.New("chat not found")
	sender := &mockSender{sendCardFunc: func(ctx context.Context, chatID string, card interface{}) error {
		assert.Equal(t, "oc_approvers", chatID)
		c := card.(Card)
		assert.Equal(t, entity.SafetyViolationMarker, c.Header.Title.Content)
		assert.Contains(t, c.Elements[0].Text.Content, "deploy-bot")
		return sendErr
	}}
	n := NewNotifier(sender, "oc_approvers", nil)

	err := n.NotifySafetyViolation(context.Background(), entity.SafetyViolation{
		RequestID: "req-1",
		TaskID:    "migrate",
		Actor:     "deploy-bot",
		Kind:      entity.ViolationAutomatedApproval,
	})
	assert.ErrorIs(t, err, sendErr)
}
