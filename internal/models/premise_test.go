package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRawPremise_ToPremise(t *testing.T) {
	raw, err := DecodeRawPremise([]byte(`{
		"erf": {"id": "E1", "erfNo": "1234"},
		"parents": {"lmPcode": "ZA1048", "wardPcode": "W07"},
		"address": {"strNo": "12", "strName": "Main", "strType": "Street"},
		"propertyType": {"type": "Residential"},
		"occupancy": {"status": "occupied"},
		"geometry": {"centroid": {"lat": -25.47, "lng": 30.97}},
		"services": {"electricityMeters": ["E-100"], "waterMeters": ["W-200"]},
		"metadata": {"created": {"at": "2026-01-02T03:04:05Z", "byUser": "Thandi", "byUid": "u1"}}
	}`))
	require.NoError(t, err)

	p := raw.ToPremise("PRM_1")
	assert.Equal(t, "PRM_1", p.ID)
	assert.Equal(t, "E1", p.ErfID)
	assert.Equal(t, "ZA1048", p.Workbase)
	assert.Equal(t, "W07", p.WardCode)
	assert.Equal(t, "12 Main Street", p.Address.String())
	assert.Equal(t, "Residential", p.PropertyType)
	assert.Equal(t, OccupancyOccupied, p.Occupancy)
	assert.Equal(t, &Point{Lat: -25.47, Lng: 30.97}, p.Centroid)
	assert.Equal(t, []MeterRef{
		{ID: "E-100", Kind: MeterKindElectricity},
		{ID: "W-200", Kind: MeterKindWater},
	}, p.Meters)
	assert.Equal(t, "Thandi", p.Metadata.Created.ByUser)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), p.Metadata.Created.At)
	assert.True(t, p.Metadata.Updated.IsZero())
}

func TestRawPremise_Defaults(t *testing.T) {
	p := RawPremise{ID: "PRM_9"}.ToPremise("")

	assert.Equal(t, "PRM_9", p.ID)
	assert.Equal(t, PropertyTypeUnknown, p.PropertyType)
	assert.Equal(t, OccupancyUnknown, p.Occupancy)
	assert.NotNil(t, p.Meters)
	assert.Nil(t, p.Centroid)
}

func TestPremise_ToRawPremise(t *testing.T) {
	p := Premise{
		ID:           "PRM_1",
		ErfID:        "E1",
		Workbase:     "ZA1048",
		WardCode:     "W07",
		Address:      Address{StrNo: "3", StrName: "Long"},
		PropertyType: "Business",
		Occupancy:    OccupancyVacant,
		Meters: []MeterRef{
			{ID: "W-1", Kind: MeterKindWater},
			{ID: "E-1", Kind: MeterKindElectricity},
		},
	}

	raw := p.ToRawPremise()
	assert.Equal(t, "ZA1048", raw.Parents.LmPcode)
	assert.Equal(t, "E1", raw.Erf.ID)
	assert.Equal(t, []string{"E-1"}, raw.Services.ElectricityMeters)
	assert.Equal(t, []string{"W-1"}, raw.Services.WaterMeters)

	back := raw.ToPremise("")
	assert.Equal(t, p.ID, back.ID)
	assert.Equal(t, p.Occupancy, back.Occupancy)
	assert.ElementsMatch(t, p.Meters, back.Meters)
}
