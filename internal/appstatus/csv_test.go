package appstatus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContactListCSV_SkipsHeaderAndParsesRows(t *testing.T) {
	input := "block_producer_key,application_name,active\nB1,val-a,true\nB2,val-b,false\n"

	rows, err := parseContactListCSV(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "B1", rows[0].BlockProducerKey)
	assert.True(t, rows[0].Active)
	assert.False(t, rows[1].Active)
}
