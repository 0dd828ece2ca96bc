package lark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// Card is the interactive message layout understood by Lark
type Card struct {
	Config   CardConfig    `json:"config"`
	Header   CardHeader    `json:"header"`
	Elements []CardElement `json:"elements"`
}

// CardConfig controls card rendering
type CardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

// CardHeader is the colored card title
type CardHeader struct {
	Title    CardText `json:"title"`
	Template string   `json:"template"`
}

// CardElement is one block of the card body
type CardElement struct {
	Tag  string    `json:"tag"`
	Text *CardText `json:"text,omitempty"`
}

// CardText is plain or markdown text
type CardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

var zoneTemplates = map[entity.RiskZone]string{
	entity.ZoneGreen:  "green",
	entity.ZoneYellow: "orange",
	entity.ZoneRed:    "red",
}

// Notifier posts approval cards to the approver chat
type Notifier struct {
	sender port.MessageSender
	chatID string
	loc    *time.Location
	logger *zap.Logger
}

// NewNotifier creates a notifier for one approver chat
func NewNotifier(sender port.MessageSender, chatID string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		sender: sender,
		chatID: chatID,
		loc:    time.UTC,
		logger: logger,
	}
}

// NotifyApprovalRequested posts the risk snapshot of a new request
func (n *Notifier) NotifyApprovalRequested(ctx context.Context, req *entity.ApprovalRequest) error {
	card := BuildRequestCard(req, n.loc)
	if err := n.sender.SendCard(ctx, n.chatID, card); err != nil {
		n.logger.Error("Failed to notify approvers",
			zap.String("request_id", req.ID),
			zap.String("chat_id", n.chatID),
			zap.Error(err))
		return err
	}
	return nil
}

// NotifySafetyViolation alerts the approver chat about a refused decision
func (n *Notifier) NotifySafetyViolation(ctx context.Context, v entity.SafetyViolation) error {
	if err := n.sender.SendCard(ctx, n.chatID, BuildViolationCard(v, n.loc)); err != nil {
		n.logger.Error("Failed to report safety violation",
			zap.String("request_id", v.RequestID),
			zap.String("actor", v.Actor),
			zap.Error(err))
		return err
	}
	return nil
}

// BuildRequestCard renders an approval request as a card
func BuildRequestCard(req *entity.ApprovalRequest, loc *time.Location) Card {
	s := req.Snapshot
	var b strings.Builder
	fmt.Fprintf(&b, "**Task:** %s\n", req.TaskID())
	fmt.Fprintf(&b, "**Command:** `%s`\n", s.Command)
	fmt.Fprintf(&b, "**Risk:** %.1f (%s, %s)\n", s.RiskScore, s.RiskZone, s.RiskLevel)
	fmt.Fprintf(&b, "**Confidence:** %.0f%%\n", s.Confidence*100)
	if s.ManualOverrideRequired {
		b.WriteString("**Manual override required**\n")
	}
	fmt.Fprintf(&b, "**Expires:** %s", req.ExpiresAt.In(loc).Format("2006-01-02 15:04:05 MST"))

	elements := []CardElement{markdown(b.String())}
	if len(s.Warnings) > 0 {
		elements = append(elements, CardElement{Tag: "hr"}, markdown("**Warnings**\n- "+strings.Join(s.Warnings, "\n- ")))
	}
	if len(s.Recommendations) > 0 {
		elements = append(elements, markdown("**Recommendations**\n- "+strings.Join(s.Recommendations, "\n- ")))
	}
	elements = append(elements, markdown(fmt.Sprintf("Request `%s`", req.ID)))

	template, ok := zoneTemplates[s.RiskZone]
	if !ok {
		template = "blue"
	}
	return Card{
		Config: CardConfig{WideScreenMode: true},
		Header: CardHeader{
			Title:    CardText{Tag: "plain_text", Content: "Approval needed: " + req.TaskID()},
			Template: template,
		},
		Elements: elements,
	}
}

// BuildViolationCard renders a safety violation as a red card
func BuildViolationCard(v entity.SafetyViolation, loc *time.Location) Card {
	body := fmt.Sprintf("**Actor:** %s\n**Kind:** %s\n**Task:** %s\n**Detail:** %s\n**At:** %s",
		v.Actor, v.Kind, v.TaskID, v.Detail, v.OccurredAt.In(loc).Format("2006-01-02 15:04:05 MST"))
	return Card{
		Config: CardConfig{WideScreenMode: true},
		Header: CardHeader{
			Title:    CardText{Tag: "plain_text", Content: entity.SafetyViolationMarker},
			Template: "red",
		},
		Elements: []CardElement{markdown(body), markdown(fmt.Sprintf("Request `%s`", v.RequestID))},
	}
}

func markdown(content string) CardElement {
	return CardElement{Tag: "div", Text: &CardText{Tag: "lark_md", Content: content}}
}

// Verify interface compliance
var _ port.Notifier = (*Notifier)(nil)
