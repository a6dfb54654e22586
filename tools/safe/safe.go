package safe

import (
	"PulseIM/logger"

	"go.uber.org/zap"
)

// Go starts a goroutine that recovers from panic so a single
// misbehaving handler cannot take down the process.
func Go(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panic recovered",
					zap.String("name", name), zap.Any("panic", r))
			}
		}()
		f()
	}()
}
