// Package cycle composes one ingestion pass per cluster:
// locate → fetch → parse → group by table → load.
//
// Orchestrator.RunCycle never returns an error. Locator and fetch failures end
// the cycle early and are recorded in Report.Err; malformed lines and rejected
// metric names are counted; per-table load results land in Report.Tables.
// A nil Target runs against the local fallback snapshot.
//
// Runner.RunAll starts one goroutine per target, each with its own deadline,
// and collects the reports over a channel. A panicking or hung cycle only
// affects its own report.
package cycle
