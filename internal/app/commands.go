package app

import (
	"context"
	"errors"
	"strings"

	"stockpulse/internal/digest"
	"stockpulse/internal/notify"
	"stockpulse/internal/transport"
	"stockpulse/internal/view"
)

const ackUsage = "usage: /ack <section> [item]\nsections: " +
	"reports, logs, warehouse, users, suppliers, returns, systemActivity, all"

// chatCommands answers /pending and /ack from the chat adapter.
type chatCommands struct {
	binding *view.Binding
}

func (c chatCommands) register(a transport.Adapter) {
	a.Handle("pending", c.pending)
	a.Handle("ack", c.ack)
}

func (c chatCommands) pending(_ context.Context, _ transport.ChatTarget, _ string) (string, error) {
	return digest.Summary(c.binding.Snapshot()), nil
}

// ack takes a section and an optional item. A sub-item name may contain
// spaces ("Sales Report"); a warehouse item is a location id.
func (c chatCommands) ack(_ context.Context, _ transport.ChatTarget, args string) (string, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return ackUsage, nil
	}
	raw, item, _ := strings.Cut(args, " ")
	item = strings.TrimSpace(item)

	if strings.EqualFold(raw, "all") {
		c.binding.ClearAll()
		return "All notifications cleared.", nil
	}

	sec, err := notify.ParseSection(raw)
	if err != nil {
		return ackUsage, nil
	}
	if item == "" {
		err = c.binding.Acknowledge(sec)
	} else {
		err = c.binding.AcknowledgeItem(sec, item)
	}
	switch {
	case err == nil:
	case errors.Is(err, notify.ErrUnknownSubItem), errors.Is(err, notify.ErrUnknownCounter):
		return "Unknown item " + item + " in " + string(sec) + ".", nil
	default:
		return "", err
	}
	if item != "" {
		return "Acknowledged " + string(sec) + " / " + item + ".", nil
	}
	return "Acknowledged " + string(sec) + ".", nil
}
