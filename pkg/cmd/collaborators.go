package cmd

import (
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/actions/httprequest"
	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/sender"
	"github.com/go-resty/resty/v2"
)

// NewSender posts outbound messages to the channel gateway at senderURL, or
// only logs them when senderURL is empty.
func NewSender(senderURL string, timeout time.Duration, logger *slog.Logger) engine.MessageSender {
	if senderURL == "" {
		return sender.NewLog(logger)
	}

	return sender.NewHTTP(senderURL, resty.New().SetTimeout(timeout), logger)
}

func NewActionCaller(logger *slog.Logger) engine.ActionCaller {
	return httprequest.NewCaller(resty.New(), logger)
}
