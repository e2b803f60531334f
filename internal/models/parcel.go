package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParcelPartitionField is the dotted path of the workbase inside a remote
// parcel document.
const ParcelPartitionField = "admin.localMunicipality.id"

// Ref is a minimal pointer to an entity: its id plus a display label.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ParcelSummary is the list-view shape of a land parcel (erf).
// Geometry is kept separately in ParcelGeometry.
type ParcelSummary struct {
	ID           string   `json:"id"`
	ParcelNo     string   `json:"parcelNo"`
	Workbase     string   `json:"workbase"`
	Municipality Ref      `json:"municipality"`
	WardCode     string   `json:"wardCode,omitempty"`
	WardName     string   `json:"wardName,omitempty"`
	Premises     []string `json:"premises"`
}

// HasPremise reports whether premiseID is already linked to the parcel.
func (p ParcelSummary) HasPremise(premiseID string) bool {
	for _, id := range p.Premises {
		if id == premiseID {
			return true
		}
	}
	return false
}

// ParcelGeometry is the spatial side record of a parcel, keyed by parcel id.
type ParcelGeometry struct {
	ID       string    `json:"id"`
	Centroid *Point    `json:"centroid,omitempty"`
	BBox     *BBox     `json:"bbox,omitempty"`
	Boundary *Boundary `json:"boundary,omitempty"`
}

// RawNamedCode is an administrative unit as stored remotely.
type RawNamedCode struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// RawParcelAdmin is the administrative lineage block of a remote parcel.
type RawParcelAdmin struct {
	LocalMunicipality RawNamedCode `json:"localMunicipality"`
	Ward              RawNamedCode `json:"ward"`
}

// RawParcel is the remote document shape of a parcel.
type RawParcel struct {
	ID       string          `json:"id"`
	ErfNo    string          `json:"erfNo"`
	Admin    RawParcelAdmin  `json:"admin"`
	Premises []string        `json:"premises"`
	Centroid *Point          `json:"centroid"`
	BBox     *BBox           `json:"bbox"`
	Geometry json.RawMessage `json:"geometry"`
}

// DecodeRawParcel unmarshals a remote parcel document.
func DecodeRawParcel(data []byte) (RawParcel, error) {
	var raw RawParcel
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawParcel{}, fmt.Errorf("failed to decode parcel document: %w", err)
	}
	return raw, nil
}

// ToSummary converts a remote parcel into its summary. id wins over the
// document's own id field, which older documents omit.
func (r RawParcel) ToSummary(id string) ParcelSummary {
	if id == "" {
		id = r.ID
	}

	parcelNo := strings.TrimSpace(r.ErfNo)
	if parcelNo == "" {
		parcelNo = ParcelNumber(id)
	}

	wardCode := r.Admin.Ward.Code
	if wardCode == "" {
		wardCode = r.Admin.Ward.ID
	}

	premises := make([]string, 0, len(r.Premises))
	premises = append(premises, r.Premises...)

	return ParcelSummary{
		ID:       id,
		ParcelNo: parcelNo,
		Workbase: r.Admin.LocalMunicipality.ID,
		Municipality: Ref{
			ID:   r.Admin.LocalMunicipality.ID,
			Name: r.Admin.LocalMunicipality.Name,
		},
		WardCode: wardCode,
		WardName: r.Admin.Ward.Name,
		Premises: premises,
	}
}

// HasSpatialFields reports whether the document carries geometry or centroid data.
func (r RawParcel) HasSpatialFields() bool {
	return len(r.Geometry) > 0 && string(r.Geometry) != "null" || r.Centroid != nil || r.BBox != nil
}

// ToGeometry builds the side record. A boundary that fails to parse is
// treated as absent; the returned error reports it so callers can log it.
// ok is false when nothing usable remains.
func (r RawParcel) ToGeometry(id string) (geom ParcelGeometry, ok bool, err error) {
	if id == "" {
		id = r.ID
	}
	geom = ParcelGeometry{ID: id, Centroid: r.Centroid, BBox: r.BBox}

	boundary, err := ParseBoundary(r.Geometry)
	if err != nil {
		boundary = nil
	}
	geom.Boundary = boundary

	if boundary != nil {
		if geom.BBox == nil {
			box := boundary.BBox()
			geom.BBox = &box
		}
		if geom.Centroid == nil {
			if c, found := boundary.Centroid(); found {
				geom.Centroid = &c
			}
		}
	}

	ok = geom.Centroid != nil || geom.BBox != nil || geom.Boundary != nil
	return geom, ok, err
}

// sgCodeLength is the length of a Surveyor-General parcel code:
// province(1) major region(4) minor region(4) parcel(8) portion(4).
const sgCodeLength = 21

// ParcelNumber derives the human-readable erf number from a parcel id.
// "C01600001000012340005" becomes "1234/5"; a zero portion is omitted.
// Ids that are not SG codes are returned unchanged.
func ParcelNumber(id string) string {
	if len(id) != sgCodeLength {
		return id
	}
	for _, c := range id[1:] {
		if c < '0' || c > '9' {
			return id
		}
	}

	number := strings.TrimLeft(id[9:17], "0")
	if number == "" {
		number = "0"
	}
	portion := strings.TrimLeft(id[17:21], "0")
	if portion == "" {
		return number
	}
	return number + "/" + portion
}
