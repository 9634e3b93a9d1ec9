// metrics.go: Prometheus-метрики конвейера архивов.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Источник архива в метке source.
const (
	sourceURL    = "url"
	sourceUpload = "upload"
)

var (
	// archivesSubmittedTotal: принятые архивы по источнику.
	archivesSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ar_archives_submitted_total",
		Help: "Общее количество принятых архивов",
	}, []string{"source"})

	// archivesCompletedTotal: успешно распакованные архивы.
	archivesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ar_archives_completed_total",
		Help: "Общее количество успешно распакованных архивов",
	})

	// archivesFailedTotal: архивы, завершившиеся ошибкой, по классу ошибки.
	archivesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ar_archives_failed_total",
		Help: "Общее количество архивов, завершившихся ошибкой",
	}, []string{"kind"})

	// archivesDeletedTotal: удалённые архивы.
	archivesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ar_archives_deleted_total",
		Help: "Общее количество удалённых архивов",
	})

	// activeArchives: архивы в обработке.
	activeArchives = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ar_archives_active",
		Help: "Количество архивов в обработке",
	})

	// bytesAcquiredTotal: байты, полученные стадией скачивания/загрузки.
	bytesAcquiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ar_acquired_bytes_total",
		Help: "Общее количество байт, полученных при скачивании и загрузке",
	})

	// stageDuration: длительность стадий.
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ar_stage_duration_seconds",
		Help:    "Длительность стадий конвейера в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"stage"})

	// cleanupErrorsTotal: неудачные удаления артефактов.
	cleanupErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ar_cleanup_errors_total",
		Help: "Общее количество ошибок удаления артефактов с диска",
	})
)
