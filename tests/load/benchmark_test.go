package load

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/birbparty/countly-nest/internal/database"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/birbparty/countly-nest/sdk"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// segmentation builds an event segmentation of roughly size bytes
func segmentation(size int) map[string]string {
	seg := make(map[string]string)
	for i := 0; i < size/64+1; i++ {
		seg[fmt.Sprintf("field_%d", i)] = randString(50)
	}
	return seg
}

func randString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func eventCommand(size int) sdk.Command {
	return sdk.NewCommand(sdk.TagAddEvent, map[string]interface{}{
		"key":          "bench",
		"count":        1,
		"segmentation": segmentation(size),
	})
}

func BenchmarkNATSPublish(b *testing.B) {
	sizes := []int{100, 1024, 10240}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("Size_%dB", size), func(b *testing.B) {
			pub := queue.NewCommandPublisher(queueClient, "bench-app")
			cmd := eventCommand(size)
			data, _ := json.Marshal(cmd)

			b.SetBytes(int64(len(data)))
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				require.NoError(b, pub.Push(cmd))
			}
		})
	}
}

func BenchmarkJournalInsertBatch(b *testing.B) {
	ctx := context.Background()
	repo := database.NewJournalRepository(db)

	for _, batchSize := range []int{10, 100, 500} {
		b.Run(fmt.Sprintf("BatchSize_%d", batchSize), func(b *testing.B) {
			raw, _ := json.Marshal(eventCommand(256))

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				entries := make([]*database.JournalEntry, batchSize)
				for j := range entries {
					entries[j] = &database.JournalEntry{
						MessageID:  uuid.NewString(),
						AppKey:     "bench-app",
						Tag:        sdk.TagAddEvent,
						Command:    raw,
						ReceivedAt: time.Now().UTC(),
					}
				}
				inserted, err := repo.InsertBatch(ctx, entries)
				require.NoError(b, err)
				require.Equal(b, batchSize, inserted)
			}
		})
	}
}

func BenchmarkJournalCountByTag(b *testing.B) {
	ctx := context.Background()
	repo := database.NewJournalRepository(db)

	for i := 0; i < b.N; i++ {
		_, err := repo.CountByTag(ctx, "bench-app")
		require.NoError(b, err)
	}
}
