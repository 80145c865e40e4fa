// Monitoring Example
// This example combines the in-memory MetricsCollector with a logging
// observer and prints a metrics snapshot.

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/birbparty/countly-nest/sdk"
)

// logObserver prints every operation
type logObserver struct{}

func (logObserver) OnCommand(tag string, err error) {
	log.Printf("[QUEUE] %s err=%v", tag, err)
}

func (logObserver) OnDirectCall(op string, d time.Duration, err error) {
	log.Printf("[CALL] %s took %v err=%v", op, d, err)
}

func (logObserver) OnSerializationError(op string, err error) {
	log.Printf("[REJECT] %s: %v", op, err)
}

func main() {
	metrics := sdk.NewMetricsCollector()
	client := sdk.NewClient(
		sdk.NewNativeEngine(),
		sdk.WithObserver(sdk.NewCompositeObserver(logObserver{}, metrics)),
	)

	if err := client.Configure(sdk.NewConfig("YOUR_APP_KEY", "https://countly.example.com").WithRequireConsent(true)); err != nil {
		log.Fatal(err)
	}

	client.GroupFeatures(sdk.FeatureGroups{
		"activity": {sdk.ConsentSessions, sdk.ConsentEvents, sdk.ConsentViews},
	})
	client.AddConsent([]string{"activity"})

	for i := 0; i < 5; i++ {
		client.TrackPageviewWithName(fmt.Sprintf("page-%d", i))
	}
	client.AddEvent("signup", 1, nil, sdk.Float64(12.5), nil)

	snapshot := metrics.GetMetrics()
	fmt.Println("\n--- Metrics ---")
	fmt.Printf("total commands: %v\n", snapshot["total_commands"])
	for tag, n := range snapshot["commands"].(map[string]int64) {
		fmt.Printf("  %-20s %d\n", tag, n)
	}
	for op, n := range snapshot["calls"].(map[string]int64) {
		fmt.Printf("  call %-15s %d\n", op, n)
	}
}
