package toolchain

import (
	"context"

	"github.com/mesabox/mesacov/internal/execx"
)

// fakeRunner records invocations instead of spawning processes. onRun, when
// set, can write fake tool output and inject failures.
type fakeRunner struct {
	invocations []execx.Invocation
	onRun       func(inv execx.Invocation) error
}

func (f *fakeRunner) Run(_ context.Context, inv execx.Invocation) error {
	f.invocations = append(f.invocations, inv)
	if f.onRun != nil {
		return f.onRun(inv)
	}
	return nil
}

// last returns the most recent invocation's command line.
func (f *fakeRunner) last() string {
	if len(f.invocations) == 0 {
		return ""
	}
	return f.invocations[len(f.invocations)-1].String()
}

// hasArgPair reports whether flag is immediately followed by value in the
// invocation's argument list.
func hasArgPair(inv execx.Invocation, flag, value string) bool {
	for i := 0; i+1 < len(inv.Args); i++ {
		if inv.Args[i] == flag && inv.Args[i+1] == value {
			return true
		}
	}
	return false
}

// containsArg reports whether the invocation carries the exact argument.
func containsArg(inv execx.Invocation, arg string) bool {
	for _, a := range inv.Args {
		if a == arg {
			return true
		}
	}
	return false
}
