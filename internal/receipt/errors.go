package receipt

import (
	"fmt"

	"osticket-helper/internal/osticket"
)

// RenderError is a failure to produce a receipt. It only concerns the ticket
// whose receipt was being built.
type RenderError struct {
	// Stage is one of template, compile, image, merge or write.
	Stage string
	Err   error
	// Output is what the typesetting compiler printed, if it ran.
	Output string
}

func (e *RenderError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("receipt %s: %v\n%s", e.Stage, e.Err, e.Output)
	}
	return fmt.Sprintf("receipt %s: %v", e.Stage, e.Err)
}

func (e *RenderError) Is(target error) bool {
	return target == osticket.ErrRender
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
