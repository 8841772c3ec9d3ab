package executor

// ExecRequest describes one sandbox execution.
type ExecRequest struct {
	Environment   string `json:"environment"`
	Code          string `json:"code"`
	Stdin         string `json:"stdin"`
	TimeLimitMS   int64  `json:"time_limit_ms,omitempty"`
	MemoryLimitKB int64  `json:"memory_limit_kb,omitempty"`
}

// PhaseResult is the raw outcome of one sandbox phase (compile or run).
type PhaseResult struct {
	Stdout       string `json:"stdout"`
	Stderr       string `json:"stderr"`
	ExitCode     int    `json:"exit_code"`
	TimeUsedMS   int64  `json:"time_used_ms"`
	MemoryUsedKB int64  `json:"memory_used_kb"`
}

// ExecOutcome is the sandbox response for one execution.
// TimedOut marks that the run exceeded its time limit; it is a normal
// outcome, not a transport failure.
type ExecOutcome struct {
	Compile  *PhaseResult `json:"compile,omitempty"`
	Run      *PhaseResult `json:"run,omitempty"`
	TimedOut bool         `json:"timed_out"`
}

// CompileFailed reports whether the build phase ran and failed, in which
// case there is no run phase to inspect.
func (o ExecOutcome) CompileFailed() bool {
	return o.Compile != nil && o.Compile.ExitCode != 0 && o.Run == nil
}
