// Package influxdb records Gatekeeper session activity as InfluxDB time
// series.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes, and health monitoring.
//
// # Measurements
//
//	session_sweep   tag outcome (ok, list_failed); fields rows, deleted, orphans, reaffirmed, failures, duration_ms
//	session_event   tag event, field count=1
//
// Every point carries a service tag with the configured service ID.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Service.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sweeper := reconcile.New(store, users, registry,
//	    reconcile.WithSweepObserver(client))
//
// # Error Handling
//
// Writes are non-blocking and batch errors are delivered via SetOnError.
// Connection and health check errors are returned directly.
package influxdb
