// Package watch runs the polling loop that turns device registry refreshes
// into change notifications.
//
// A Scheduler ticks at a fixed interval (1 second by default), refreshes the
// registry with a bounded timeout and passes each non-empty changeset to a
// single Listener. Listeners composes several consumers (console output,
// history, MQTT, the WebSocket hub) behind that one listener.
//
//	sched, _ := watch.NewScheduler(registry, watch.Options{Logger: log})
//	fan := watch.NewListeners(log)
//	fan.Add("console", printer.Changeset)
//	fan.Add("rerun", run.Rerun(ctx, registry, command))
//	_ = sched.Start(ctx, fan.Notify)
//	defer sched.Stop()
package watch
