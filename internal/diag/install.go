package diag

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Install routes sigs to h. Signals delivered this way carry no register
// context, so their reports use a call backtrace of the dispatching
// goroutine. Install may be called again to add signals.
func (h *Handler) Install(sigs ...syscall.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.signals == nil {
		h.signals = make(chan os.Signal, 4)
		h.stop = make(chan struct{})
		h.dispatched = make(chan struct{})
		go h.dispatch(h.signals, h.stop, h.dispatched)
	}
	for _, sig := range sigs {
		signal.Notify(h.signals, sig)
		slog.Info("Installed diagnostic signal handler", "signal", sig.String(), "fatal", IsFatal(sig), "name", h.name)
	}
}

func (h *Handler) dispatch(signals <-chan os.Signal, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case s := <-signals:
			sig, ok := s.(syscall.Signal)
			if !ok {
				slog.Warn("Ignoring unexpected signal", "signal", s)
				continue
			}
			h.Handle(sig, nil)
		case <-stop:
			return
		}
	}
}

// Stop restores default handling of every installed signal and waits for the
// dispatcher to exit.
func (h *Handler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.signals == nil {
		return
	}
	signal.Stop(h.signals)
	close(h.stop)
	<-h.dispatched
	h.signals, h.stop, h.dispatched = nil, nil, nil
}

// InstallFatalSignalHandler routes sig to the default handler.
func InstallFatalSignalHandler(sig syscall.Signal) {
	Default().Install(sig)
}
