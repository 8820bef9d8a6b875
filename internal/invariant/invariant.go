// Package invariant reports broken engine invariants. In strict mode a
// violation panics so development runs fail loudly; otherwise it is logged,
// counted and the caller repairs the data.
package invariant

import (
	"errors"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/telemetry"
)

const (
	ArrayMisaligned   = "array_misaligned"
	NegativeDuration  = "negative_duration"
	DuplicateEmission = "duplicate_emission"
	SequenceFlagged   = "sequence_flagged"
)

// ErrViolation is the panic value cause in strict mode.
var ErrViolation = errors.New("invariant violated")

type Reporter struct {
	logger  *zap.Logger
	metrics telemetry.Metrics
	strict  bool
	count   atomic.Uint64
}

func NewReporter(logger *zap.Logger, metrics telemetry.Metrics, strict bool) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{logger: logger, metrics: metrics, strict: strict}
}

// Report records a violation of the named invariant. It panics when the
// reporter is strict.
func (r *Reporter) Report(name string, fields ...zap.Field) {
	if r == nil {
		return
	}
	r.count.Add(1)
	if r.metrics != nil {
		r.metrics.Add("invariant_"+name, 1)
	}
	if r.strict {
		values := make([]goerr.Option, 0, len(fields)+1)
		values = append(values, goerr.V("invariant", name))
		for _, field := range fields {
			values = append(values, goerr.V(field.Key, fieldValue(field)))
		}
		panic(goerr.Wrap(ErrViolation, name, values...))
	}
	r.logger.Warn("invariant violated", append([]zap.Field{zap.String("invariant", name)}, fields...)...)
}

// Strict reports whether violations panic.
func (r *Reporter) Strict() bool {
	return r != nil && r.strict
}

// Count returns the number of violations reported so far.
func (r *Reporter) Count() uint64 {
	if r == nil {
		return 0
	}
	return r.count.Load()
}

func fieldValue(field zap.Field) any {
	if field.Interface != nil {
		return field.Interface
	}
	if field.String != "" {
		return field.String
	}
	return field.Integer
}
