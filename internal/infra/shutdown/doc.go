// Package shutdown provides graceful shutdown for ledgersnap processes.
//
// A Handler waits for SIGINT, SIGTERM or an explicit Trigger (used when the
// snapshot pipeline hits a fatal error), then runs the registered hooks in
// reverse order under a timeout.
//
// Usage:
//
//	h := shutdown.NewHandler(30 * time.Second)
//	h.OnShutdown(server.Shutdown)
//	err := h.Wait()
package shutdown
