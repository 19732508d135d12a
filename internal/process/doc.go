// Package process runs external programs on behalf of adbmux.
//
// Two shapes are supported:
//
//   - Run executes a short-lived command (one adb invocation) with a
//     deadline and returns its captured stdout, stderr and exit code.
//   - Supervisor keeps a long-running daemon (a dedicated adb server) alive,
//     restarting it with exponential backoff and killing it when its health
//     check keeps failing.
//
// Example usage:
//
//	res, err := process.Run(ctx, process.Command{
//	    Binary:  "adb",
//	    Args:    []string{"devices", "-l"},
//	    Timeout: 10 * time.Second,
//	})
//
//	sup := process.NewSupervisor(process.SupervisorConfig{
//	    Name:             "adb-server",
//	    Binary:           "adb",
//	    Args:             []string{"-a", "-P", "5037", "nodaemon", "server"},
//	    RestartOnFailure: true,
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
