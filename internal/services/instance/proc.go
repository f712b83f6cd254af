package instance

// ProcOps abstracts the process probes and kills needed to supervise a
// running transport.
type ProcOps interface {
	// Alive reports whether a process with the given pid exists.
	Alive(pid int) bool
	// Terminate asks the process to stop.
	Terminate(pid int) error
	// TerminateChildren stops direct children of pid whose executable
	// matches name. The transport keeps its ssh tunnel as a child, and a
	// hung tunnel must go down first or the transport never exits.
	TerminateChildren(pid int, name string) error
}
