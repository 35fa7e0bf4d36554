// Package metrics holds application-level Prometheus collectors that are not tied to HTTP.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Storage operations reported in warnings.
const (
	OpUpload     = "upload"
	OpDelete     = "delete"
	OpCompensate = "compensate"
	OpReconcile  = "reconcile"
)

// Recorder counts best-effort storage failures. A nil *Recorder is valid and records nothing.
type Recorder struct {
	storageWarnings *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		storageWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_storage_warnings_total",
				Help: "Blob storage failures that did not fail the enclosing request.",
			},
			[]string{"op"},
		),
	}
	if err := reg.Register(r.storageWarnings); err != nil {
		return nil, err
	}
	return r, nil
}

// StorageWarning increments the warning counter for op.
func (r *Recorder) StorageWarning(op string) {
	if r == nil {
		return
	}
	r.storageWarnings.WithLabelValues(op).Inc()
}
