package notify

import (
	"fmt"

	"github.com/sells-group/salewatch/internal/model"
)

// Failure is one record that could not be delivered.
type Failure struct {
	Index  int
	Record model.SaleRecord
	Err    error
}

// Error collects the failures of one Deliver call.
type Error struct {
	Attempted int
	Failures  []Failure
}

func (e *Error) Error() string {
	if len(e.Failures) == 0 {
		return "notify: no failures"
	}
	return fmt.Sprintf("notify: %d of %d deliveries failed: %v",
		len(e.Failures), e.Attempted, e.Failures[0].Err)
}

// Unwrap exposes every underlying delivery error.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
