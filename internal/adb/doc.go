// Package adb wraps the Android Debug Bridge command-line tool.
//
// Bridge turns user commands into adb invocations ("-s <serial>" targeting,
// optional leading "adb" keyword, carriage-return cleanup) and reports
// failures as *BridgeError values classified as ErrLaunch, ErrExit or
// ErrTimeout. Server optionally owns a dedicated adb server process and
// checks its health over the adb host protocol.
//
//	bridge := adb.NewBridge(adb.Config{Binary: "adb"})
//	out, err := bridge.Exec(ctx, "adb shell getprop ro.product.model", "emulator-5554")
//	var berr *adb.BridgeError
//	if errors.As(err, &berr) && errors.Is(err, adb.ErrExit) {
//	    fmt.Println(berr.Stderr)
//	}
package adb
