package query

// Result is the uniform execution envelope: either Data is set, or Errors is
// a non-empty list. Preparation, constraint, bind, and in-execution failures
// all surface through the same shape.
type Result struct {
	Data   any      `json:"data"`
	Errors []*Error `json:"errors,omitempty"`
}

// ErrResult wraps a failure list into a Result with absent data.
func ErrResult(errs ...*Error) *Result { return &Result{Errors: errs} }

// HasErrors reports whether the result carries any errors.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

// Stream is a live sequence of results produced by a subscription. The
// channel closes when the subscription ends; error-valued elements do not
// close it.
type Stream struct {
	// Results delivers one Result per re-evaluation cycle.
	Results <-chan *Result

	// Cancel stops the subscription and closes Results.
	Cancel func()
}
