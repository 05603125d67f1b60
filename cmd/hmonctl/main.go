// Command hmonctl is a minimal smoke-test entrypoint for the orchestrator
// core: it dials one HMON server, polls a small set of facts, and prints
// whatever arrives on the event stream until interrupted. It is
// deliberately not the dashboard CLI described in the distillation's
// Non-goals — no TUI, no multi-server config file, no OTel export. Just
// enough to exercise dial + poll + print against a real interpreter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lstefano71/hmonclient"
	"github.com/lstefano71/hmonclient/orchestrator"
)

func main() {
	host := flag.String("host", "127.0.0.1", "interpreter host to dial")
	port := flag.Int("port", 4502, "interpreter HMON port")
	interval := flag.Duration("interval", 2*time.Second, "fact poll interval")
	name := flag.String("name", "hmonctl", "friendly name for this session")
	flag.Parse()

	logger := hmon.NewStdLogger(os.Stderr)
	o := orchestrator.New(orchestrator.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o.AddServer(*host, *port, *name)

	go func() {
		for evt := range o.Events() {
			printEvent(evt)
			if evt.Type == hmon.EventSessionConnected {
				kinds := hmon.FactKindList{hmon.FactHost, hmon.FactThreadCount, hmon.FactWorkspace}
				if err := o.PollFactsAsync(evt.Session, kinds, *interval); err != nil {
					logger.Errorf("start polling: %v", err)
				}
			}
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func printEvent(evt hmon.Event) {
	switch evt.Type {
	case hmon.EventSessionConnected:
		fmt.Printf("session %s connected: %s:%d\n", evt.Session, evt.Endpoint.Host, evt.Endpoint.Port)
	case hmon.EventSessionDisconnected:
		fmt.Printf("session %s disconnected: %s\n", evt.Session, evt.Reason)
	case hmon.EventFacts:
		if evt.Facts != nil {
			for _, f := range evt.Facts.Facts {
				fmt.Printf("session %s fact %s: %s\n", evt.Session, f.Name, string(f.Value))
			}
		}
	default:
		fmt.Printf("session %s event %s\n", evt.Session, evt.Type)
	}
}
