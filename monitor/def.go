package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"ComicDetServer/logger"
	"ComicDetServer/pipeline"
	"ComicDetServer/task"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	TasksSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comic_tasks_submitted_total",
		Help: "Tasks handed to the worker pool",
	})
	TasksCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comic_tasks_cancelled_total",
		Help: "Tasks whose handler was closed before they finished",
	})
	TasksFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comic_tasks_finished_total",
		Help: "Tasks that returned, cancelled or not",
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "comic_task_queue_depth",
		Help: "Tasks waiting for a worker",
	})
	PagesExtracted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comic_pages_extracted_total",
		Help: "Page images decoded from containers",
	})
	EntriesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comic_entries_failed_total",
		Help: "Container entries skipped because they could not be read or decoded",
	})
	InferenceBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comic_inference_batches_total",
		Help: "Batches sent to the inference engine",
	}, []string{"result"})
	HTTPTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests processed",
	}, []string{"route", "status"})
	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage,
		TasksSubmitted, TasksCancelled, TasksFinished, QueueDepth,
		PagesExtracted, EntriesFailed, InferenceBatches,
		HTTPTotal, GRPCTotal)
}

// TaskHooks feeds the pool counters.
func TaskHooks() task.Hooks {
	return task.Hooks{
		Submitted: TasksSubmitted.Inc,
		Finished: func(cancelled bool) {
			TasksFinished.Inc()
			if cancelled {
				TasksCancelled.Inc()
			}
		},
		Queue: func(depth int) { QueueDepth.Set(float64(depth)) },
	}
}

func PipelineHooks() pipeline.Hooks {
	return pipeline.Hooks{
		PageExtracted: PagesExtracted.Inc,
		EntryFailed:   EntriesFailed.Inc,
		BatchInferred: func(_ int, err error) {
			if err != nil {
				InferenceBatches.WithLabelValues("failed").Inc()
				return
			}
			InferenceBatches.WithLabelValues("ok").Inc()
		},
	}
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func CheckProcessInfo(p *process.Process) {
	if memInfo, err := p.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples the process until ctx is done.
func StartMon(port int, ctx context.Context) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Error("process sampler unavailable", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Log().Info("metrics server listening", zap.Int("port", port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			if p != nil {
				CheckProcessInfo(p)
			}
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("metrics server shutdown", zap.Error(err))
	}
}
