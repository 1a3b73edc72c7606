package metrics

// AttributeRecorder feeds attribute events to a Collector and, when set,
// a PrometheusExporter.
type AttributeRecorder struct {
	collector *Collector
	exporter  *PrometheusExporter
}

// NewAttributeRecorder creates an AttributeRecorder. exporter may be nil.
func NewAttributeRecorder(collector *Collector, exporter *PrometheusExporter) *AttributeRecorder {
	return &AttributeRecorder{collector: collector, exporter: exporter}
}

// AttributeAdded records an attribute added to an instance of owner.
func (r *AttributeRecorder) AttributeAdded(owner string) {
	r.collector.RecordAttributeAdded(owner)
	if r.exporter != nil {
		r.exporter.RecordAttributeAdded(owner)
	}
}

// AttributeVoided records an attribute voided on an instance of owner.
func (r *AttributeRecorder) AttributeVoided(owner string) {
	r.collector.RecordAttributeVoided(owner)
	if r.exporter != nil {
		r.exporter.RecordAttributeVoided(owner)
	}
}

// ValidationFailed records a value of format that failed validation.
func (r *AttributeRecorder) ValidationFailed(format string) {
	r.collector.RecordValidationFailure(format)
	if r.exporter != nil {
		r.exporter.RecordValidationFailure(format)
	}
}
