package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEthnicityLabels(t *testing.T) {
	tests := []struct {
		code  Ethnicity
		label string
		valid bool
	}{
		{EthnicityMaya, "Maya", true},
		{EthnicityGarifuna, "Garífuna", true},
		{EthnicityXinka, "Xinka", true},
		{EthnicityMestizo, "Mestizo/Ladino", true},
		{EthnicityOther, "Otro", true},
		{"9", "No especificado", false},
		{"", "No especificado", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.label, tt.code.Label())
			assert.Equal(t, tt.valid, tt.code.Valid())
		})
	}
}

func TestGenderLabel(t *testing.T) {
	assert.Equal(t, "Hombre", GenderMale.Label())
	assert.Equal(t, "Mujer", GenderFemale.Label())
}

func TestPatientForm(t *testing.T) {
	p := Patient{
		Age:       7,
		Gender:    GenderFemale,
		Ethnicity: EthnicityXinka,
		Source:    SourceExternal,
		Region:    "9",
		SubRegion: "901",
	}
	assert.Equal(t, FormValues{
		Age:       "7",
		Gender:    "2",
		Ethnicity: "3",
		Source:    "externa",
		Region:    "9",
		SubRegion: "901",
	}, p.Form())
}

func TestRequestPayloadForm(t *testing.T) {
	p := RequestPayload{Edad: 34, Genero: 1, Ppertenencia: 4, Fuente: "interna", Deptoresiden: 1, Muniresiden: 101}
	assert.Equal(t, FormValues{
		Age:       "34",
		Gender:    "1",
		Ethnicity: "4",
		Source:    "interna",
		Region:    "1",
		SubRegion: "101",
	}, p.Form())
}

func TestPathologyUnmarshal_LegacyString(t *testing.T) {
	var list []Pathology
	require.NoError(t, json.Unmarshal([]byte(`["Diabetes tipo 2", {"name":"Asma","status":"pending","origin":"manual"}]`), &list))

	require.Len(t, list, 2)
	assert.Equal(t, "Diabetes tipo 2", list[0].Name)
	assert.False(t, list[0].InWorkflow())
	assert.Equal(t, StatusPending, list[1].Status)
	assert.True(t, list[1].InWorkflow())
}

func TestToday(t *testing.T) {
	assert.Equal(t, "2024-05-15", Today(time.Date(2024, 5, 15, 23, 59, 0, 0, time.UTC)))
}
