package worker

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/3T-LVTN/model/internal/artifact"
	"github.com/3T-LVTN/model/internal/ingest"
	"github.com/3T-LVTN/model/internal/timeseries"
)

func TestPubSubHandler_AckDecisions(t *testing.T) {
	syncer := ingest.NewSyncer(ingest.SyncerConfig{
		Store:  artifact.NewMemoryStore(),
		Files:  ingest.NewInMemoryRepository(),
		Series: timeseries.NewInMemoryRepository(),
		Logger: zerolog.Nop(),
	})
	h := &PubSubHandler{
		dispatcher: &Dispatcher{Sync: syncer, Logger: zerolog.Nop()},
		logger:     zerolog.Nop(),
	}
	ctx := context.Background()

	tests := []struct {
		name string
		data string
		ack  bool
	}{
		{"malformed", `{not json`, true},
		{"unknown job", `{"job_type":"health_check"}`, true},
		{"failing job", `{"job_type":"crawl_weather"}`, false},
		{"sync", `{"job_type":"sync_files"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ack, h.handle(ctx, "msg-1", []byte(tt.data)))
		})
	}
}
