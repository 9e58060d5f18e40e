// Package scheduler runs jobs on intervals or cron expressions.
//
// A single goroutine (Run) owns the job table. Add, Remove, Get, List and
// Trigger are messages to that goroutine; each run executes on its own
// goroutine under the job's budget and reports back when it finishes, so a
// slow job never delays the others. A job is not fired again while its run
// is still in progress.
//
// Jobs either call a tool through the dispatcher or a named callback
// registered with RegisterCallback:
//
//	s.RegisterCallback("purge_upstream_cache", manager.PurgeCachesJob)
//	s.Add(ctx, scheduler.JobSpec{
//		Name:     "purge",
//		Trigger:  scheduler.Interval{Every: time.Minute},
//		Callback: "purge_upstream_cache",
//	})
package scheduler
