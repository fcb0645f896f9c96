package inpatient

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestRenderStatement(t *testing.T) {
	hour := UOMHour
	stay := &Stay{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		Status:    StatusAdmitted,
		Items: []*BillableLineItem{
			{ItemCode: "BED-GEN", UOM: &hour, Quantity: dec("2.5"), Rate: dec("100"), Invoiced: true},
			{ItemCode: "LAB-CBC", Quantity: dec("1"), Rate: dec("350")},
		},
	}
	stay.RecomputeTotal()

	data, err := RenderStatement(stay)
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows(statementSheet)
	require.NoError(t, err)
	require.Len(t, rows, 8)

	assert.Equal(t, []string{"Inpatient Record", stay.ID.String()}, rows[0])
	assert.Equal(t, StatusAdmitted, rows[2][1])
	assert.Equal(t, statementHeader, rows[4])
	assert.Equal(t, []string{"BED-GEN", "Hour", "2.5", "100", "250", "Yes"}, rows[5])
	assert.Equal(t, "LAB-CBC", rows[6][0])
	assert.Equal(t, "No", rows[6][5])
	assert.Equal(t, "Total", rows[7][0])
	assert.Equal(t, "600", rows[7][4])
}
