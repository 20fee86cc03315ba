// Package api serves a read-only HTTP view of the keep-alive loop.
//
// Routes, all under /api/v1:
//
//	GET /health           200 {"status":"ok"} while the loop runs, 503 otherwise
//	GET /status           live loop snapshot plus BLE link counters
//	GET /history?limit=N  recent cycles from SQLite (404 when history is disabled)
//
// The server follows the same lifecycle pattern as the other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
