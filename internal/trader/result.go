package trader

import "go.uber.org/multierr"

// Result is the outcome of one engine pass over a ticker.
type Result struct {
	Engine    string
	Processed int
	Errors    []error
}

// Success reports whether the pass finished without any error.
func (r Result) Success() bool {
	return len(r.Errors) == 0
}

// Err combines every collected error, or returns nil.
func (r Result) Err() error {
	return multierr.Combine(r.Errors...)
}

func (r *Result) add(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

func (r *Result) merge(other Result) {
	r.Processed += other.Processed
	r.Errors = append(r.Errors, other.Errors...)
}
