package metrics

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
)

const (
	NAMESPACE = "wasmrt_"
	SUBSYSTEM = "host_"
)

var (
	State               prometheus.Gauge
	Uptime              prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// ModuleCompilesTotal counts wasm compiles performed by the module
	// cache, split by outcome (ok/error).
	ModuleCompilesTotal *prometheus.CounterVec
	// ModuleCacheHits and ModuleCacheMisses count module-cache lookups
	// keyed by whether a cached Module was reused or a compile happened.
	ModuleCacheHits   prometheus.Counter
	ModuleCacheMisses prometheus.Counter
	// ActiveWorkers tracks live Worker instances in the registry.
	ActiveWorkers prometheus.Gauge
	// WorkerReinstantiationsTotal counts poison-on-trap recoveries, split
	// by database.
	WorkerReinstantiationsTotal *prometheus.CounterVec
	// DatabaseBridgeErrorsTotal counts translated database errors crossing
	// the database bridge, split by error code.
	DatabaseBridgeErrorsTotal *prometheus.CounterVec
	// DBConnectionsOpen is the open database connection gauge. Nothing
	// sets it from sql.DBStats; it is only reset to 0 when the Tenant
	// closes its pools.
	DBConnectionsOpen prometheus.Gauge
)

func Init() error {
	State = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "state",
		Help:      "The state of the host process",
	})
	Uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "uptime",
		Help:      "The uptime of the host process",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests dispatched to guest modules",
	},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latencies in seconds",
		Buckets:   prometheus.DefBuckets,
	},
		[]string{"method", "path", "status"},
	)

	ModuleCompilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "module_compiles_total",
		Help:      "Total number of wasm module compiles performed by the module cache",
	}, []string{"outcome"})
	ModuleCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "module_cache_hits_total",
		Help:      "Total number of module cache lookups served from a live Module",
	})
	ModuleCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "module_cache_misses_total",
		Help:      "Total number of module cache lookups that triggered a compile",
	})
	ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "active_workers",
		Help:      "Number of live workers held by the worker registry",
	})
	WorkerReinstantiationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "worker_reinstantiations_total",
		Help:      "Total number of workers rebuilt after a poisoning trap",
	}, []string{"database"})
	DatabaseBridgeErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "database_bridge_errors_total",
		Help:      "Total number of database errors translated across the database bridge",
	}, []string{"code"})
	DBConnectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: NAMESPACE,
		Subsystem: SUBSYSTEM,
		Name:      "db_connections_open",
		Help:      "Number of open database connections",
	})

	errs := make([]error, 0, 12)
	errs = append(errs, prometheus.Register(State))
	errs = append(errs, prometheus.Register(Uptime))
	errs = append(errs, prometheus.Register(HTTPRequestsTotal))
	errs = append(errs, prometheus.Register(HTTPRequestDuration))
	errs = append(errs, prometheus.Register(ModuleCompilesTotal))
	errs = append(errs, prometheus.Register(ModuleCacheHits))
	errs = append(errs, prometheus.Register(ModuleCacheMisses))
	errs = append(errs, prometheus.Register(ActiveWorkers))
	errs = append(errs, prometheus.Register(WorkerReinstantiationsTotal))
	errs = append(errs, prometheus.Register(DatabaseBridgeErrorsTotal))
	errs = append(errs, prometheus.Register(DBConnectionsOpen))

	errs = append(errs, prometheus.Register(collectors.NewBuildInfoCollector()))
	errs = append(errs, prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: NAMESPACE})))
	return errors.WithStack(multierr.Combine(errs...))
}
