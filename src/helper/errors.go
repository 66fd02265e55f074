package helper

import (
	"errors"

	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"

	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

var commonEventMessage string = "events handler error"

func EventHandlerErrorHandler(topic string, err error) {
	var custError *custerror.CustomError
	if errors.As(err, &custError) {
		logger.SInfo(commonEventMessage,
			zap.String("topic", topic),
			zap.Error(err),
			zap.Uint32("type", custError.Code))
	} else {
		logger.SInfo(commonEventMessage,
			zap.String("topic", topic),
			zap.Error(err))
	}
}

// WrapForHandlers adapts an error-returning handler to the paho router, logging and dropping failures.
func WrapForHandlers(handler func(p *paho.Publish) error) func(p *paho.Publish) {
	return func(p *paho.Publish) {
		if err := handler(p); err != nil {
			EventHandlerErrorHandler(p.Topic, err)
		}
	}
}
