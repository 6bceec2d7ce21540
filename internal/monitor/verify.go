package monitor

import (
	"context"
	"os/exec"
	"time"

	"fx-price-feeder/internal/alerting"
)

const verifyTimeout = 2 * time.Minute

// execVerification runs the configured end-to-end verification command after
// a clean committed cycle. The result rides along in the webhook payload;
// a failing verification never affects breaker or latch state.
func (m *Monitor) execVerification(ctx context.Context) *alerting.VerificationStatus {
	if len(m.opts.VerifyCommand) == 0 {
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, m.opts.VerifyCommand[0], m.opts.VerifyCommand[1:]...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		m.logger.Info().Strs("command", m.opts.VerifyCommand).Msg("verification passed")
		return &alerting.VerificationStatus{Status: "passed", ExitCode: 0}
	}

	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	m.logger.Error().Err(err).Int("exit_code", exitCode).
		Bytes("output", tail(output, 2048)).
		Msg("verification failed")
	return &alerting.VerificationStatus{Status: "failed", ExitCode: exitCode}
}

func tail(data []byte, max int) []byte {
	if len(data) <= max {
		return data
	}
	return data[len(data)-max:]
}
