package domain

// Effects collects the outbox commands and audit events produced by one vault operation.
type Effects struct {
	Commands []Command
	Events   []AuditEvent
}

// AddCommands appends commands in execution order.
func (e *Effects) AddCommands(cmds ...Command) {
	e.Commands = append(e.Commands, cmds...)
}

// AddEvents appends audit events.
func (e *Effects) AddEvents(events ...AuditEvent) {
	e.Events = append(e.Events, events...)
}

// Merge appends other's commands and events after e's own.
func (e *Effects) Merge(other Effects) {
	e.AddCommands(other.Commands...)
	e.AddEvents(other.Events...)
}

// IsEmpty reports whether nothing was produced.
func (e Effects) IsEmpty() bool {
	return len(e.Commands) == 0 && len(e.Events) == 0
}
