package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caseweave/caseweave/internal/config"
)

// CheckStatus is the outcome of a single preflight check.
type CheckStatus string

const (
	// StatusPass indicates the check succeeded.
	StatusPass CheckStatus = "pass"
	// StatusWarn indicates a non-fatal problem; startup may continue.
	StatusWarn CheckStatus = "warn"
	// StatusFail indicates the check failed.
	StatusFail CheckStatus = "fail"
)

// CheckResult is the outcome of one environment check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether this result should abort startup.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs environment checks against a configuration.
type Checker struct {
	cfg     *config.Config
	out     io.Writer
	verbose bool
	// skipGovernor disables the Redis reachability probe. Used when the
	// governor is configured for local fallback only.
	skipGovernor bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithOutput directs human-readable results to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.out = w }
}

// WithVerbose includes per-check details in printed output.
func WithVerbose() Option {
	return func(c *Checker) { c.verbose = true }
}

// WithoutGovernorProbe skips the Redis reachability check.
func WithoutGovernorProbe() Option {
	return func(c *Checker) { c.skipGovernor = true }
}

// NewChecker builds a Checker for the given configuration.
func NewChecker(cfg *config.Config, opts ...Option) *Checker {
	c := &Checker{cfg: cfg, out: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll executes every preflight check and returns the results in
// display order. It never returns an error; failures are reported
// through the result statuses.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		CheckDiskSpace(c.cfg.DataDir),
		CheckMemory(),
		CheckWritePermissions(c.cfg.DataDir),
		CheckFileDescriptorLimit(),
		CheckEmbeddings(c.cfg.Embeddings),
	}
	if !c.skipGovernor {
		results = append(results, CheckGovernor(ctx, c.cfg.Governor))
	}
	return results
}

// HasCriticalFailures reports whether any result should abort startup.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus condenses results into "failed", "ready_with_warnings",
// or "ready".
func SummaryStatus(results []CheckResult) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes a human-readable report of the check results.
func (c *Checker) PrintResults(results []CheckResult) {
	fmt.Fprintln(c.out, "CaseWeave environment check")
	fmt.Fprintln(c.out)

	for _, r := range results {
		icon := "✅"
		switch r.Status {
		case StatusWarn:
			icon = "⚠️ "
		case StatusFail:
			icon = "❌"
		}
		fmt.Fprintf(c.out, "%s %s: %s\n", icon, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			fmt.Fprintf(c.out, "   %s\n", r.Details)
		}
	}

	fmt.Fprintln(c.out)
	switch SummaryStatus(results) {
	case "failed":
		fmt.Fprintln(c.out, "Environment check failed. Resolve the errors above before starting.")
	case "ready_with_warnings":
		fmt.Fprintln(c.out, "Ready with warnings. Some capabilities may be degraded.")
	default:
		fmt.Fprintln(c.out, "All checks passed.")
	}
}

// CheckWritePermissions verifies the data directory exists (creating it
// if needed) and is writable.
func CheckWritePermissions(dataDir string) CheckResult {
	result := CheckResult{Name: "Write permissions", Required: true}

	if dataDir == "" {
		result.Status = StatusFail
		result.Message = "no data directory configured"
		return result
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s", dataDir)
		result.Details = err.Error()
		return result
	}

	probe := filepath.Join(dataDir, ".caseweave-write-probe")
	f, err := os.Create(probe)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not writable", dataDir)
		result.Details = err.Error()
		return result
	}
	f.Close()
	os.Remove(probe)

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s is writable", dataDir)
	return result
}

// CheckEmbeddings validates the embeddings configuration.
func CheckEmbeddings(cfg config.EmbeddingsConfig) CheckResult {
	result := CheckResult{Name: "Embeddings", Required: true}

	switch cfg.Provider {
	case "", "static":
	default:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("unknown embeddings provider %q", cfg.Provider)
		result.Details = "supported providers: static"
		return result
	}

	dims := cfg.Dimensions
	if dims == 0 {
		dims = 384
	}
	if dims < 8 || dims > 4096 {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("embedding dimensions %d out of range", dims)
		result.Details = "dimensions must be between 8 and 4096"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("static embedder, %d dimensions", dims)
	return result
}
