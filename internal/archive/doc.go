// Package archive defines the domain types shared by the wayback downloader:
// targets, per-target results, job summaries, the failure taxonomy, and the
// collaborator interfaces the job runner depends on.
package archive
