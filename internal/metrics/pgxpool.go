package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolStats is the subset of *pgxpool.Stat the gauges read.
type poolStats interface {
	AcquiredConns() int32
	IdleConns() int32
	MaxConns() int32
	TotalConns() int32
}

// RegisterPgxPoolMetrics exposes connection pool statistics as Prometheus gauges.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool) {
	prometheus.MustRegister(poolCollectors(func() poolStats { return pool.Stat() })...)
}

func poolCollectors(stat func() poolStats) []prometheus.Collector {
	gauge := func(name, help string, read func(poolStats) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fleet_db_pool_" + name,
			Help: help,
		}, func() float64 {
			return float64(read(stat()))
		})
	}
	return []prometheus.Collector{
		gauge("acquired_conns", "Connections currently checked out of the pool", poolStats.AcquiredConns),
		gauge("idle_conns", "Idle connections in the pool", poolStats.IdleConns),
		gauge("max_conns", "Maximum size of the pool", poolStats.MaxConns),
		gauge("total_conns", "Open connections in the pool", poolStats.TotalConns),
	}
}
