package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"agentdesk/internal/doctor"
)

func Doctor(ctx context.Context, out io.Writer, opts doctor.Options) (int, error) {
	report := doctor.GenerateReport(ctx, opts)

	fmt.Fprintln(out, "agentdesk doctor report")
	fmt.Fprintln(out, strings.Repeat("-", 23))

	for _, check := range report.Checks {
		fmt.Fprintf(out, "%s %s - %s\n", formatStatus(check.Status), check.Name, check.Summary)
		for _, detail := range check.Details {
			fmt.Fprintf(out, "    %s\n", detail)
		}
		for _, action := range check.Actions {
			fmt.Fprintf(out, "    -> %s\n", action)
		}
		fmt.Fprintln(out)
	}

	exitCode := report.ExitCode()
	if exitCode == 0 {
		fmt.Fprintln(out, "All checks completed")
	} else {
		fmt.Fprintln(out, "One or more checks failed")
	}

	return exitCode, nil
}

func formatStatus(status doctor.Status) string {
	switch status {
	case doctor.StatusOK:
		return "[OK ]"
	case doctor.StatusWarn:
		return "[WARN]"
	case doctor.StatusFail:
		return "[FAIL]"
	default:
		return "[    ]"
	}
}
