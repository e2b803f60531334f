package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PremisePartitionField is the dotted path of the workbase inside a remote
// premise document.
const PremisePartitionField = "parents.lmPcode"

// Occupancy values recorded by field agents.
const (
	OccupancyOccupied   = "OCCUPIED"
	OccupancyVacant     = "VACANT"
	OccupancyUnknown    = "UNKNOWN"
	PropertyTypeUnknown = "UNKNOWN"
)

// Meter kinds.
const (
	MeterKindElectricity = "electricity"
	MeterKindWater       = "water"
)

// Address is the street address of a premise.
type Address struct {
	StrNo   string `json:"strNo,omitempty"`
	StrName string `json:"strName,omitempty"`
	StrType string `json:"strType,omitempty"`
}

// String formats the address for display, e.g. "12 Main Street".
func (a Address) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.StrNo, a.StrName, a.StrType} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// MeterRef points at a utility meter installed at a premise.
type MeterRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// AuditStamp records who touched a record and when.
type AuditStamp struct {
	At     time.Time `json:"at"`
	ByUser string    `json:"byUser,omitempty"`
	ByUID  string    `json:"byUid,omitempty"`
}

// IsZero reports whether the stamp was never set.
func (s AuditStamp) IsZero() bool {
	return s.At.IsZero() && s.ByUser == "" && s.ByUID == ""
}

// Metadata carries the audit trail of a premise.
type Metadata struct {
	Created AuditStamp `json:"created"`
	Updated AuditStamp `json:"updated"`
}

// Premise is a physical address point on a parcel.
type Premise struct {
	ID           string     `json:"id"`
	ErfID        string     `json:"erfId"`
	ErfNo        string     `json:"erfNo,omitempty"`
	Workbase     string     `json:"workbase"`
	WardCode     string     `json:"wardCode,omitempty"`
	Address      Address    `json:"address"`
	PropertyType string     `json:"propertyType"`
	Occupancy    string     `json:"occupancy"`
	Centroid     *Point     `json:"centroid,omitempty"`
	Meters       []MeterRef `json:"meters"`
	Metadata     Metadata   `json:"metadata"`
}

// RawPremiseParents is the lineage block of a remote premise document.
type RawPremiseParents struct {
	LmPcode   string `json:"lmPcode"`
	WardPcode string `json:"wardPcode"`
}

// RawPremiseErf links a remote premise to its parcel.
type RawPremiseErf struct {
	ID    string `json:"id"`
	ErfNo string `json:"erfNo"`
}

// RawPremiseGeometry holds the positional fields of a remote premise.
type RawPremiseGeometry struct {
	Centroid *Point `json:"centroid"`
}

// RawPremiseProperty is the classification block of a remote premise.
type RawPremiseProperty struct {
	Type string `json:"type"`
}

// RawPremiseServices lists meter numbers per utility.
type RawPremiseServices struct {
	ElectricityMeters []string `json:"electricityMeters"`
	WaterMeters       []string `json:"waterMeters"`
}

// RawPremise is the remote document shape of a premise.
type RawPremise struct {
	ID           string             `json:"id"`
	Erf          RawPremiseErf      `json:"erf"`
	Parents      RawPremiseParents  `json:"parents"`
	Address      Address            `json:"address"`
	PropertyType RawPremiseProperty `json:"propertyType"`
	Occupancy    struct {
		Status string `json:"status"`
	} `json:"occupancy"`
	Geometry RawPremiseGeometry `json:"geometry"`
	Services RawPremiseServices `json:"services"`
	Metadata Metadata           `json:"metadata"`
}

// DecodeRawPremise unmarshals a remote premise document.
func DecodeRawPremise(data []byte) (RawPremise, error) {
	var raw RawPremise
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawPremise{}, fmt.Errorf("failed to decode premise document: %w", err)
	}
	return raw, nil
}

// ToPremise converts a remote document into the working shape, filling
// defaults for missing classification fields.
func (r RawPremise) ToPremise(id string) Premise {
	if id == "" {
		id = r.ID
	}

	propertyType := strings.TrimSpace(r.PropertyType.Type)
	if propertyType == "" {
		propertyType = PropertyTypeUnknown
	}
	occupancy := strings.ToUpper(strings.TrimSpace(r.Occupancy.Status))
	if occupancy == "" {
		occupancy = OccupancyUnknown
	}

	meters := make([]MeterRef, 0, len(r.Services.ElectricityMeters)+len(r.Services.WaterMeters))
	for _, m := range r.Services.ElectricityMeters {
		meters = append(meters, MeterRef{ID: m, Kind: MeterKindElectricity})
	}
	for _, m := range r.Services.WaterMeters {
		meters = append(meters, MeterRef{ID: m, Kind: MeterKindWater})
	}

	return Premise{
		ID:           id,
		ErfID:        r.Erf.ID,
		ErfNo:        r.Erf.ErfNo,
		Workbase:     r.Parents.LmPcode,
		WardCode:     r.Parents.WardPcode,
		Address:      r.Address,
		PropertyType: propertyType,
		Occupancy:    occupancy,
		Centroid:     r.Geometry.Centroid,
		Meters:       meters,
		Metadata:     r.Metadata,
	}
}

// ToRawPremise is the inverse of RawPremise.ToPremise, used to build the
// document sent on a remote upsert.
func (p Premise) ToRawPremise() RawPremise {
	raw := RawPremise{
		ID:           p.ID,
		Erf:          RawPremiseErf{ID: p.ErfID, ErfNo: p.ErfNo},
		Parents:      RawPremiseParents{LmPcode: p.Workbase, WardPcode: p.WardCode},
		Address:      p.Address,
		PropertyType: RawPremiseProperty{Type: p.PropertyType},
		Geometry:     RawPremiseGeometry{Centroid: p.Centroid},
		Services: RawPremiseServices{
			ElectricityMeters: []string{},
			WaterMeters:       []string{},
		},
		Metadata: p.Metadata,
	}
	raw.Occupancy.Status = p.Occupancy

	for _, m := range p.Meters {
		switch m.Kind {
		case MeterKindWater:
			raw.Services.WaterMeters = append(raw.Services.WaterMeters, m.ID)
		default:
			raw.Services.ElectricityMeters = append(raw.Services.ElectricityMeters, m.ID)
		}
	}
	return raw
}
