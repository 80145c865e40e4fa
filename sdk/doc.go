// Package sdk provides a typed Go binding for the Countly web analytics SDK.
// It turns typed calls into the command tuples the Countly engine consumes
// from its queue, and renders the init configuration the engine expects.
//
// The package does not send anything over the network by itself. Queuing,
// batching, retries and heartbeats belong to the engine.
//
// # Engines
//
// A Client drives an Engine:
//   - JSEngine (GOOS=js GOARCH=wasm) binds to the Countly web SDK loaded in
//     the page, by default at the global "Countly".
//   - NativeEngine (every other target) keeps the engine state in process
//     and forwards commands to any Queue, for example a message broker.
//
// # Basic Usage
//
//	engine, err := sdk.NewJSEngine()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := sdk.NewClient(engine)
//
//	err = client.Configure(sdk.NewConfig("APP_KEY", "https://countly.example.com").
//	    WithIgnoreBots(false).
//	    WithRequireConsent(true))
//
//	client.AddConsent(sdk.FeatureIDs(sdk.ConsentSessions, sdk.ConsentViews))
//	client.EnableSessionTracking()
//	client.TrackPageview()
//
// # Configuration
//
// Unset optional fields are left out of the init object so the engine uses
// its own defaults. Boolean options are only sent when they differ from
// the engine default: ignore_bots=false is sent, ignore_bots=true is not.
//
// # Custom Properties
//
// User properties take a Value, a closed set of Text, Number and List:
//
//	client.UserDataSet("plan", sdk.Text("pro"))
//	client.UserDataPush("scores", sdk.List{sdk.Number(1), sdk.Number(2)})
//	client.UserDataSave()
//
// # Error Handling
//
// Arguments that cannot be represented on the wire, such as NaN or
// infinite numbers, are rejected before anything is queued:
//
//	if err := client.UserDataIncrementBy("score", math.NaN()); sdk.IsSerializationError(err) {
//	    // nothing was pushed
//	}
//
// Errors raised by the engine or the queue are returned exactly as
// produced, never wrapped.
//
// # Observability
//
// Pass an Observer to count commands and time direct engine calls:
//
//	metrics := sdk.NewMetricsCollector()
//	client := sdk.NewClient(engine, sdk.WithObserver(metrics))
//
// # WASM Support
//
//	GOOS=js GOARCH=wasm go build -o main.wasm ./examples/wasm
//
// See examples/wasm for a browser example.
package sdk
