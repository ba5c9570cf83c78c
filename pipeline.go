package redisclient

/*
Pipeline Builder

Pipeline accumulates commands with chained Command calls and flushes them
as a single batched write on Finish/FinishErr, returning one Array Value
whose elements align with the submitted commands in order. Built on top
of SyncFacade.PipelinedErr, itself just submitPipelineSync plus a deadline
wait -- no separate wire logic lives here.
*/

// Pipeline is a builder obtained from SyncFacade.NewPipeline.
type Pipeline struct {
	sync *SyncFacade
	cmds []Command
}

// Command appends one command to the batch and returns the Pipeline for
// chaining.
func (p *Pipeline) Command(name string, args ...string) *Pipeline {
	p.cmds = append(p.cmds, NewCommand(name, args...))
	return p
}

// FinishErr sends the accumulated batch in one write and returns an Array
// Value of per-command replies in submission order, or a non-nil error
// on transport/timeout/state failure.
func (p *Pipeline) FinishErr() (Value, error) {
	return p.sync.PipelinedErr(p.cmds...)
}

// Finish is FinishErr, panicking on a non-nil error.
func (p *Pipeline) Finish() Value {
	v, err := p.FinishErr()
	if err != nil {
		panic(err)
	}
	return v
}
