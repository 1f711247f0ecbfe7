package sandbox

func assembleResult(stdout, stderr []byte, state State) ExecuteResult {
	return ExecuteResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: state.ExitCode,
	}
}
