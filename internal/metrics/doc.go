/*
Package metrics provides Prometheus-based observability for a mounted
MediaFire filesystem: per-operation counters and histograms, an error
counter classified by pkg/errors.Code, a catalog lock-held-duration
gauge, and an open-handle gauge.

# Overview

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9477,
		Path:      "/metrics",
		Namespace: "mfsfs",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Operations

	startTime := time.Now()
	n, err := adapter.Read(handleID, buf, off)
	duration := time.Since(startTime)

	collector.RecordOperation("read", duration, int64(n), err == nil)
	if err != nil {
		collector.RecordError("read", err)
	}

# Lock Contention and Handle Pressure

Two gauges have no counterpart in a generic object-storage metrics set;
they exist because of how this filesystem actually works:

	tree := catalog.NewFolderTree(client, catalog.TreeConfig{
		LockObserver: collector.ObserveLockHeld,
		// ...
	})

	// periodically, from the same goroutine that owns the handle table
	collector.UpdateOpenHandles(adapter.HandleCount())

ObserveLockHeld reports how long FolderTree.Update held its mutex while
applying a device-revision journal — a number worth alerting on, since a
long hold blocks every concurrent Getattr/Readdir. UpdateOpenHandles
reports how many files are staged open at once, the one resource this
design actually pools.

# Prometheus Metrics

Counters:
  - mfsfs_operations_total{operation,status}
  - mfsfs_errors_total{operation,type}

Histograms:
  - mfsfs_operation_duration_seconds{operation}
  - mfsfs_operation_size_bytes{operation}

Gauges:
  - mfsfs_catalog_lock_held_seconds
  - mfsfs_open_handles

# HTTP Endpoints

/metrics - Prometheus-formatted metrics (for scraping)
/health - Health check endpoint
/debug/operations - Tabular human-readable operations summary

# See Also

  - internal/health: Health monitoring
  - internal/circuit: Circuit breaker for reliability
  - pkg/errors: Structured error handling
*/
package metrics
