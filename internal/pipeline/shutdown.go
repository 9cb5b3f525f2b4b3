package pipeline

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// ShutdownCoordinator turns interrupt signals into a cooperative stop flag.
// The first trip asks workers to finish their current rows; the second trip
// exits immediately. Only the dispatcher installs the signal handler;
// workers just poll Requested.
type ShutdownCoordinator struct {
	requested atomic.Bool
	trips     atomic.Int32

	// exit is swapped in tests.
	exit func(int)
}

func NewShutdownCoordinator() *ShutdownCoordinator {
	return &ShutdownCoordinator{exit: os.Exit}
}

// Requested reports whether a graceful stop has been tripped.
func (s *ShutdownCoordinator) Requested() bool { return s.requested.Load() }

// Trip records one stop request. The second call does not return.
func (s *ShutdownCoordinator) Trip() {
	n := s.trips.Add(1)
	if n >= 2 {
		log.Warn("[shutdown] second interrupt, exiting now")
		s.exit(1)
		return
	}
	s.requested.Store(true)
	log.Warn("[shutdown] interrupt received, finishing current tasks (interrupt again to force quit)")
}

// Install wires SIGINT/SIGTERM to Trip until stop is closed.
func (s *ShutdownCoordinator) Install(stop <-chan struct{}) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ch:
				s.Trip()
			case <-stop:
				return
			}
		}
	}()
}
