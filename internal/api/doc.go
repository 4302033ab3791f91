// Package api provides the HTTP REST API for OTA Core.
//
// It is a thin controller over the group engines: every group request
// resolves the target group and calls exactly one group.Service method,
// then maps the outcome to a status code:
//
//	success         200
//	not found       404
//	conflict        409
//	invalid policy  400
//	internal        500
//
// Devices and packages can be registered and listed so groups have
// something to reference.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
