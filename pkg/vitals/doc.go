// Package vitals embeds a liveness and profiling surface into monitored
// applications.
//
// An application creates a Monitor, calls Beat from its critical loop, and
// exposes the handler. The stallscope agent polls GET /vitals to detect
// stalls and drives POST /vitals/profile/start and /vitals/profile/stop to
// capture a CPU profile of the stall while it is happening.
//
// Basic integration:
//
//	m, err := vitals.NewMonitor(vitals.Config{Service: "checkout"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv := vitals.NewServer(logger, m)
//	if err := srv.Start("127.0.0.1:9190"); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Stop()
//
//	for job := range jobs {
//	    m.Beat()
//	    process(job)
//	}
//
// Applications that already run an HTTP server can mount Monitor.Handler
// on their own mux instead of starting a standalone Server.
package vitals
