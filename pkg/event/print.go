package event

const (
	// PrintJobsSubject is the JetStream subject prefix for durable print jobs.
	PrintJobsSubject = "print.jobs"
	// PrintJobsStream names the JetStream stream holding print jobs.
	PrintJobsStream = "PRINT_JOBS"
)
