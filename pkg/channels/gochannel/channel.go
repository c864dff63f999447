// Package gochannel provides the in-process trigger channel used by tests and
// single-binary deployments.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// CreateChannel returns one GoChannel serving as both publisher and
// subscriber. Triggers are lost on restart; the store sweeper recovers
// pending timers.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 1024,
		},
		logger,
	)

	return pubSub, pubSub
}

// CreateTestChannel keeps published messages for late subscribers, which
// makes publish-then-subscribe tests deterministic.
func CreateTestChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 16,
			Persistent:          true,
		},
		logger,
	)

	return pubSub, pubSub
}
