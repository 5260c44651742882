package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBatchReportKey(t *testing.T) {
	id := uuid.MustParse("0b6a3c52-9f1e-4d0a-8c3b-2f7e5d1a9c40")
	assert.Equal(t, "payout-batches/0b6a3c52-9f1e-4d0a-8c3b-2f7e5d1a9c40.json", BatchReportKey(id))
}
