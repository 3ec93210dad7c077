// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package treestore

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/treeledger/merkletreestore/utils/wrappers"
)

// metricsNamespace prefixes every metric the store and factory expose.
const metricsNamespace = "merkletreestore"

func newCounterMetric(namespace, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

type metrics struct {
	diskUsage prometheus.Gauge

	treesStored,
	treesRead,
	treesComputed,
	pruneRuns,
	filesPruned,
	cacheHit,
	cacheMiss prometheus.Counter
}

func newMetrics(namespace string, registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		diskUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disk_usage_bytes",
			Help:      "Total bytes of all live merkle tree data files",
		}),
		treesStored:   newCounterMetric(namespace, "trees_stored", "# of merkle trees written to disk"),
		treesRead:     newCounterMetric(namespace, "trees_read", "# of merkle trees read back from disk"),
		treesComputed: newCounterMetric(namespace, "trees_computed", "# of merkle trees computed from block data"),
		pruneRuns:     newCounterMetric(namespace, "prune_runs", "# of prune passes that removed at least one file"),
		filesPruned:   newCounterMetric(namespace, "files_pruned", "# of data files removed by pruning"),
		cacheHit:      newCounterMetric(namespace, "cache_hit", "# of memory cache hits"),
		cacheMiss:     newCounterMetric(namespace, "cache_miss", "# of memory cache misses"),
	}

	if registerer == nil {
		return m, nil
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(m.diskUsage),
		registerer.Register(m.treesStored),
		registerer.Register(m.treesRead),
		registerer.Register(m.treesComputed),
		registerer.Register(m.pruneRuns),
		registerer.Register(m.filesPruned),
		registerer.Register(m.cacheHit),
		registerer.Register(m.cacheMiss),
	)
	if errs.Errored() {
		return nil, fmt.Errorf("failed to register %s metrics: %w", namespace, errs.Err)
	}
	return m, nil
}
