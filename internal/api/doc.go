// Package api provides the read-only HTTP status API and WebSocket event
// stream for a long-running adbmux.
//
// Endpoints (all under /api/v1):
//
//	GET /health                 liveness and version
//	GET /devices[?status=...]   current devices; status is online, offline or an adb status
//	GET /devices/{id}           one device
//	GET /devices/{id}/events    recorded changes for one device (needs history)
//	GET /runs                   recent command runs (needs history)
//	GET /runs/{run_id}          every device result of one batch (needs history)
//	GET /stats                  registry, adb server, MQTT, WebSocket and runtime stats
//	GET /ws                     WebSocket; subscribe to "devices.changed" and "commands.result"
//
// The server follows the same lifecycle as the other long-running parts:
//
//	server, err := api.New(deps)
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	defer server.Close()
//	listeners.Add("websocket", server.Listener())
package api
