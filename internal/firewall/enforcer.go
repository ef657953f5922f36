package firewall

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"grimm.is/mudgate/internal/logging"
)

// Script actions.
const (
	ActionDown = "down"
	ActionUp   = "up"
)

// DefaultShell interprets rule scripts unless another shell is configured.
const DefaultShell = "/bin/sh"

// Enforcer runs persisted rule scripts.
type Enforcer struct {
	runner   CommandRunner
	shell    string
	iptables string
	logger   *logging.Logger
}

// NewEnforcer creates an enforcer. A nil runner uses DefaultCommandRunner.
func NewEnforcer(runner CommandRunner, opts Options) *Enforcer {
	if runner == nil {
		runner = DefaultCommandRunner
	}
	opts = opts.withDefaults()
	return &Enforcer{
		runner:   runner,
		shell:    DefaultShell,
		iptables: opts.IPTables,
		logger:   logging.WithComponent("enforcer"),
	}
}

// WithShell sets the interpreter used to run scripts. Empty keeps the current one.
func (e *Enforcer) WithShell(shell string) *Enforcer {
	if shell != "" {
		e.shell = shell
	}
	return e
}

// Apply tears down the previous rules and sets up the ones in the script.
func (e *Enforcer) Apply(ctx context.Context, path string) error {
	if err := e.run(ctx, path, ActionDown); err != nil {
		return err
	}
	return e.run(ctx, path, ActionUp)
}

// Remove tears down the rules installed by the script.
func (e *Enforcer) Remove(ctx context.Context, path string) error {
	return e.run(ctx, path, ActionDown)
}

func (e *Enforcer) run(ctx context.Context, path, action string) error {
	if err := ctx.Err(); err != nil {
		return &EnforcementError{Script: path, Action: action, Err: err}
	}
	if _, err := os.Stat(path); err != nil {
		return &EnforcementError{Script: path, Action: action, Err: err}
	}
	e.logger.Debug("running rule script", "script", path, "action", action)
	if err := e.runner.Run(ctx, e.shell, path, action); err != nil {
		return &EnforcementError{Script: path, Action: action, Err: err}
	}
	return nil
}

// ErrChainNotLoaded is returned by Loaded when the chain does not exist.
var ErrChainNotLoaded = errors.New("chain not loaded")

// Loaded reports how many rules the named chain currently holds.
func (e *Enforcer) Loaded(ctx context.Context, chain string) (int, error) {
	out, err := e.runner.Output(ctx, e.iptables, "-S", chain)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrChainNotLoaded, chain, err)
	}
	rules := 0
	for _, line := range strings.Split(string(out), "\n") {
		// -S prints "-N <chain>" first, then one "-A <chain> ..." per rule.
		if strings.HasPrefix(line, "-A ") {
			rules++
		}
	}
	return rules, nil
}
