package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/birbparty/countly-nest/sdk"
)

func main() {
	// Record commands in memory instead of driving a browser SDK
	queue := sdk.NewRecordingQueue()
	client := sdk.NewClient(sdk.NewNativeEngine(sdk.WithQueue(queue)))

	config := sdk.NewConfig("YOUR_APP_KEY", "https://countly.example.com").
		WithDeviceID("user-42").
		WithIgnoreBots(false).
		WithIgnoreReferrers("internal.example.com")

	initObject, err := json.Marshal(config)
	if err != nil {
		log.Fatalf("Failed to render config: %v", err)
	}
	fmt.Printf("init object: %s\n", initObject)

	if err := client.Configure(config); err != nil {
		log.Fatalf("Failed to configure: %v", err)
	}

	fmt.Println("\n--- Sessions and views ---")
	client.EnableSessionTracking()
	client.TrackPageviewWithName("checkout")
	client.TrackPageview()

	fmt.Println("--- Events ---")
	client.AddEvent("purchase", 1, sdk.Uint32(25), nil, map[string]string{"sku": "A1"})
	client.StartEvent("video")
	client.EndEvent("video")

	fmt.Println("--- User profile ---")
	client.SetUserDetails(sdk.UserDetails{Name: "Ada", BirthYear: sdk.Uint32(1815)})
	client.UserDataSet("plan", sdk.Text("pro"))
	client.UserDataIncrementBy("logins", 1)
	client.UserDataSave()

	fmt.Println("--- Rejected value ---")
	if err := client.UserDataMax("score", math.Inf(1)); sdk.IsSerializationError(err) {
		fmt.Printf("✓ rejected before queuing: %v\n", err)
	}
	if err := client.LogError(errors.New("payment declined"), map[string]string{"step": "pay"}); err != nil {
		log.Fatalf("Failed to log error: %v", err)
	}

	fmt.Printf("\n%d commands queued:\n", queue.Len())
	for _, cmd := range queue.Commands() {
		data, _ := json.Marshal(cmd)
		fmt.Printf("  %s\n", data)
	}
}
