/*
pipeline.go - Ordered processor chain

PURPOSE:
  The pipeline is a fixed sequence of processors over the shared ledger.
  Each processor reads columns written by its predecessors and writes its
  own; invoice exports later only filter and aggregate, never alter
  balances. A stage fully completes before the next begins.

ORDER (fixed, load-bearing):
  1. alias resolution    - before anything keys off PI identity
  2. institution         - PI email domain -> institution name
  3. billability         - the gates every credit rule respects
  4. new-PI credit       - consumes the initial balance
  5. subsidy             - consumes what the credit left
  6. prepayment          - consumes what the subsidy left

FAILURE MODEL:
  Fail-fast. The first processor error aborts the run; there is no partial
  tolerance because later stages assume a consistent ledger.
*/
package billing

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Processor is one stage of the pipeline. Process mutates the ledger in
// place and returns an error only for unrecoverable precondition violations.
type Processor interface {
	Name() string
	Process(ledger *Ledger) error
}

// Pipeline runs processors in order against one month's ledger.
type Pipeline struct {
	log   zerolog.Logger
	procs []Processor
}

func NewPipeline(log zerolog.Logger, procs ...Processor) *Pipeline {
	return &Pipeline{log: log, procs: procs}
}

// Run executes every processor in order, stopping at the first error.
func (p *Pipeline) Run(ledger *Ledger) error {
	for _, proc := range p.procs {
		p.log.Info().
			Str("processor", proc.Name()).
			Str("invoice_month", ledger.Month.String()).
			Msg("running processor")
		if err := proc.Process(ledger); err != nil {
			return fmt.Errorf("processor %s: %w", proc.Name(), err)
		}
	}
	return nil
}
