package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// Context is cancelled on the first interrupt or termination signal. stop
// restores default signal handling so a second signal kills the process.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}

func Notify(ch chan os.Signal) {
	signal.Notify(ch, signals...)
}
