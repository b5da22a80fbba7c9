package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRetrieved_JSONShape(t *testing.T) {
	event := DocumentRetrieved{
		Identifier:   "10.1371/journal.pone.0000001",
		ProviderName: "unpaywall",
		Path:         "/data/fulltext/10.1371_journal.pone.0000001.pdf",
		ByteSize:     204800,
		ContentHash:  "deadbeef",
		RetrievedAt:  time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "10.1371/journal.pone.0000001", decoded["identifier"])
	assert.Equal(t, "unpaywall", decoded["provider_name"])
	assert.Equal(t, float64(204800), decoded["byte_size"])
}

func TestNewPublisher_Defaults(t *testing.T) {
	p := NewPublisher(Config{
		Brokers: []string{"localhost:9092"},
		Topic:   "events.fulltext.document_retrieved",
	}, zerolog.Nop())
	require.NotNil(t, p)
	assert.Equal(t, 10*time.Millisecond, p.writer.BatchTimeout)
	require.NoError(t, p.Close())
}
