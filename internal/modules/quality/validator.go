package quality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const validatorTimeout = 2 * time.Second

// runValidator evaluates an operator-supplied expression against the parsed
// payload. The expression sees the object as `payload` and must yield a
// truthy value; anything else, a thrown error, or a timeout rejects the
// candidate.
func runValidator(ctx context.Context, expr string, payload map[string]interface{}) error {
	vm := goja.New()
	if err := vm.Set("payload", vm.ToValue(payload)); err != nil {
		return fmt.Errorf("validator setup failed: %w", err)
	}

	type result struct {
		value goja.Value
		err   error
	}
	ch := make(chan result, 1)

	go func() {
		value, err := vm.RunString(expr)
		ch <- result{value: value, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return normalizeValidatorError(res.err)
		}
		if res.value == nil || !res.value.ToBoolean() {
			return errors.New("validator returned falsy")
		}
		return nil
	case <-ctx.Done():
		vm.Interrupt("cancelled")
		<-ch
		return fmt.Errorf("validator aborted: %w", ctx.Err())
	case <-time.After(validatorTimeout):
		vm.Interrupt("validator timeout")
		<-ch
		return errors.New("validator timed out")
	}
}

func normalizeValidatorError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return errors.New("validator timed out")
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		msg := strings.TrimSpace(exception.Value().String())
		if msg == "" {
			msg = "validator threw"
		}
		return errors.New("validator rejected: " + msg)
	}
	return fmt.Errorf("validator error: %w", err)
}
