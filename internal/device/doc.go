// Package device implements the logical device registry of one IPX800 endpoint.
//
// A logical device groups one (optional) physical input with an ordered set
// of physical outputs and carries a single on/off logical state. Pressing
// the input toggles the logical state, and the outputs follow it.
//
// # Architecture
//
// The package is split into layers:
//
//   - Types: LogicalDevice, Definition, StateChange, EndpointInfo
//   - Validation: ValidateDefinition normalises and checks user input
//   - Repository: SQLite persistence (one database file per endpoint)
//   - Registry: in-memory cache kept in registration order, written
//     through to the repository before the cache changes
//
// # Persistence
//
// Every mutation is a single transaction. A state change and its history
// row commit together or not at all. The pending_state column records an
// actuation intent that has not been confirmed by the controller yet; NULL
// means nothing is outstanding.
//
// # Thread Safety
//
// Registry is safe for concurrent use. Callers that need a read-modify-write
// sequence across several calls (the bridge does, for toggles) must
// serialise those sequences themselves.
//
// # Usage
//
//	reg, err := device.Load(ctx, cfg.Database, endpoint)
//	if err != nil {
//	    return err
//	}
//	defer reg.Close()
//
//	d, err := reg.AddDevice(ctx, device.Definition{
//	    Name:           "Kitchen lights",
//	    InputChannel:   "btn0",
//	    OutputChannels: []string{"led0", "led1"},
//	})
package device
