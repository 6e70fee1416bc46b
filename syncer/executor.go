package syncer

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// OrderPlacer is the execution capability the processor dispatches through.
// Implementations return whether the order was accepted and a free-form
// message for the log and journal.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, tokenID, side string, price, shares float64) (bool, string)
}

const bridgeScript = "scripts/place_order_once.py"

// pythonBridge shells out to the order placement script. Exit code 0 means
// the order was accepted; stdout and stderr are merged into the message.
type pythonBridge struct {
	python string
	script string
}

// NewOrderPlacer returns the adapter named by liveExec. Only python-bridge
// is built in; any other name yields a placer that fails every order with an
// explanatory message, keeping the pipeline alive.
func NewOrderPlacer(liveExec string) OrderPlacer {
	if liveExec == "python-bridge" {
		return &pythonBridge{python: "python3", script: bridgeScript}
	}
	return unsupportedPlacer(liveExec)
}

func (b *pythonBridge) PlaceOrder(ctx context.Context, tokenID, side string, price, shares float64) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.python, b.script,
		"--token-id", tokenID,
		"--price", strconv.FormatFloat(price, 'f', 2, 64),
		"--size", strconv.FormatFloat(shares, 'f', 4, 64),
		"--side", side,
		"--order-type", "FOK",
	)
	out, err := cmd.CombinedOutput()
	msg := strings.TrimSpace(string(out))
	if err != nil {
		if msg == "" {
			msg = err.Error()
		}
		return false, msg
	}
	return true, msg
}

type unsupportedPlacer string

func (p unsupportedPlacer) PlaceOrder(_ context.Context, _, _ string, _, _ float64) (bool, string) {
	return false, fmt.Sprintf("unsupported live executor %q, only python-bridge is built in", string(p))
}
