package dynaorm

import (
	"errors"

	"github.com/rs/zerolog"
)

// DefaultBatchSize is the page size used by batch iteration when none is given.
const DefaultBatchSize = 1000

// Option is a functional option for configuring a [DB].
type Option func(*Options)

// Options holds the configuration for a [DB]. Use [Option] functions such as
// [WithLogger] or [WithBatchSize] to customise the defaults.
type Options struct {
	logger    zerolog.Logger
	batchSize int
}

func newOptions() *Options {
	return &Options{
		logger:    zerolog.Nop(),
		batchSize: DefaultBatchSize,
	}
}

func (o *Options) validate() error {
	if o.batchSize <= 0 {
		return errors.New("batch size must be greater than zero")
	}
	return nil
}

// WithLogger sets the logger used for debug and warning events. The default
// logger discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

// WithBatchSize sets the default page size of [Relation.FindEach] and
// [Relation.FindInBatches]. The default is 1000.
func WithBatchSize(n int) Option {
	return func(o *Options) {
		o.batchSize = n
	}
}
