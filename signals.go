package oncez

import "github.com/zoobzio/capitan"

// Signal definitions for oncez lifecycle events.
// Signals follow the pattern: <component>.<event>.
var (
	// Singleton signals.
	SignalSingletonConstructed = capitan.NewSignal(
		"singleton.constructed",
		"Singleton cell constructed and published its instance",
	)
	SignalSingletonConstructionFailed = capitan.NewSignal(
		"singleton.construction-failed",
		"Singleton constructor returned an error or panicked; nothing was cached",
	)
	SignalSingletonReset = capitan.NewSignal(
		"singleton.reset",
		"Singleton cell was reset, starting a new epoch for its type",
	)

	// Registry signals.
	SignalRegistryConstructed = capitan.NewSignal(
		"registry.constructed",
		"Registry constructed and published the instance for a type",
	)
	SignalRegistryConstructionFailed = capitan.NewSignal(
		"registry.construction-failed",
		"Registry constructor returned an error or panicked; the type remains uninitialized",
	)
	SignalRegistryReset = capitan.NewSignal(
		"registry.reset",
		"Registry dropped the cached instance for a type",
	)
	SignalRegistryResetAll = capitan.NewSignal(
		"registry.reset-all",
		"Registry dropped every cached instance, starting a new epoch for all types",
	)
)

// Common field keys using capitan primitive types.
// All keys use primitive types to avoid custom struct serialization.
var (
	FieldName       = capitan.NewStringKey("name")       // Component instance name
	FieldType       = capitan.NewStringKey("type")       // Type being constructed
	FieldError      = capitan.NewStringKey("error")      // Error message
	FieldPanicked   = capitan.NewStringKey("panicked")   // Constructor panicked: "true"/"false"
	FieldGeneration = capitan.NewIntKey("generation")    // Epoch counter
	FieldDuration   = capitan.NewFloat64Key("duration")  // Constructor duration in seconds
	FieldSize       = capitan.NewIntKey("size")          // Cached instance count (registry)
	FieldTimestamp  = capitan.NewFloat64Key("timestamp") // Unix timestamp
)
