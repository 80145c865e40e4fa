//go:build js && wasm

package main

import (
	"fmt"
	"syscall/js"

	"github.com/birbparty/countly-nest/sdk"
)

// Load the Countly web SDK before this module, then:
//
//	countlyGo.start("YOUR_APP_KEY", "https://countly.example.com")
func main() {
	engine, err := sdk.NewJSEngine()
	if err != nil {
		fmt.Println("Countly web SDK not found:", err)
		return
	}
	client := sdk.NewClient(engine)

	js.Global().Set("countlyGo", map[string]interface{}{
		"start": js.FuncOf(func(_ js.Value, args []js.Value) interface{} {
			if len(args) != 2 {
				return "start requires app key and server URL"
			}
			cfg := sdk.NewConfig(args[0].String(), args[1].String())
			if err := client.Configure(cfg); err != nil {
				return err.Error()
			}
			client.EnableSessionTracking()
			client.TrackPageview()
			client.EnableLinkTracking(nil)
			client.SetViewNameCallback(func() string {
				return js.Global().Get("document").Get("title").String()
			})
			return nil
		}),
		"event": js.FuncOf(func(_ js.Value, args []js.Value) interface{} {
			if len(args) == 0 {
				return "event requires a key"
			}
			if err := client.AddEvent(args[0].String(), 1, nil, nil, nil); err != nil {
				return err.Error()
			}
			return nil
		}),
	})

	fmt.Println("Countly Go binding loaded")
	select {}
}
