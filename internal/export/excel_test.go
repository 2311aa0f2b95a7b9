package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"slotwise/internal/aggregate"
	"slotwise/internal/model"
)

func TestWriteSummary(t *testing.T) {
	monday := model.NewDate(2026, 3, 2)
	summary := &aggregate.Summary{
		Service:     model.Service{ID: "consult", DurationMinutes: 60},
		Start:       monday,
		End:         monday.AddDays(1),
		ResourceIDs: []string{"dr-kim", "dr-lee"},
		Days: []aggregate.DaySummary{
			{
				Date: monday,
				Resources: map[string]aggregate.Counts{
					"dr-kim": {Total: 8, Available: 5},
					"dr-lee": {Total: 6, Available: 6},
				},
				Total: aggregate.Counts{Total: 14, Available: 11},
			},
			{
				Date:      monday.AddDays(1),
				Resources: map[string]aggregate.Counts{},
			},
		},
		Total: aggregate.Counts{Total: 14, Available: 11},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(summary, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Availability", "Calendar"}, f.GetSheetList())

	rows, err := f.GetRows("Availability")
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, []string{"Date", "Resource", "Total slots", "Available slots"}, rows[0])
	assert.Equal(t, []string{"2026-03-02", "dr-kim", "8", "5"}, rows[1])
	assert.Equal(t, []string{"2026-03-03", "dr-lee", "0", "0"}, rows[4])
	assert.Equal(t, []string{"Total", "", "14", "11"}, rows[5])

	cal, err := f.GetRows("Calendar")
	require.NoError(t, err)
	require.Len(t, cal, 3)
	assert.Equal(t, []string{"Date", "dr-kim", "dr-lee", "All"}, cal[0])
	assert.Equal(t, []string{"2026-03-02", "5/8", "6/6", "11/14"}, cal[1])

	assert.Error(t, WriteSummary(nil, &buf))
}

func TestWriter_RequiresSheet(t *testing.T) {
	w := NewWriter()
	defer w.Close()
	assert.Error(t, w.WriteRow([]any{"x"}))
	require.NoError(t, w.AddSheet("a-very-long-sheet-name-that-exceeds-the-limit"))
	assert.Equal(t, 31, len(w.currentSheet))
}
