package collectionsync

import (
	"github.com/stwalsh4118/atlas/fieldsync/internal/models"
	"github.com/stwalsh4118/atlas/fieldsync/internal/remote"
)

// Adapter describes one entity type to the sync engine.
type Adapter[T any] struct {
	// Collection is the remote collection name.
	Collection string
	// PartitionField is the dotted path compared against the workbase.
	PartitionField string
	// Transform converts a raw remote document into the cached shape.
	Transform func(id string, raw []byte) (T, error)
	// Geometry extracts the side record. Nil for types without geometry.
	// ok is false when the document carries no usable spatial fields.
	Geometry func(id string, raw []byte) (geom models.ParcelGeometry, ok bool, err error)
	ID       func(T) string
	Ward     func(T) string
}

// ParcelAdapter maps the remote erfs collection onto ParcelSummary.
func ParcelAdapter() Adapter[models.ParcelSummary] {
	return Adapter[models.ParcelSummary]{
		Collection:     remote.CollectionParcels,
		PartitionField: models.ParcelPartitionField,
		Transform: func(id string, raw []byte) (models.ParcelSummary, error) {
			doc, err := models.DecodeRawParcel(raw)
			if err != nil {
				return models.ParcelSummary{}, err
			}
			return doc.ToSummary(id), nil
		},
		Geometry: func(id string, raw []byte) (models.ParcelGeometry, bool, error) {
			doc, err := models.DecodeRawParcel(raw)
			if err != nil || !doc.HasSpatialFields() {
				return models.ParcelGeometry{}, false, err
			}
			return doc.ToGeometry(id)
		},
		ID:   func(p models.ParcelSummary) string { return p.ID },
		Ward: func(p models.ParcelSummary) string { return p.WardCode },
	}
}

// PremiseAdapter maps the remote premises collection onto Premise.
func PremiseAdapter() Adapter[models.Premise] {
	return Adapter[models.Premise]{
		Collection:     remote.CollectionPremises,
		PartitionField: models.PremisePartitionField,
		Transform: func(id string, raw []byte) (models.Premise, error) {
			doc, err := models.DecodeRawPremise(raw)
			if err != nil {
				return models.Premise{}, err
			}
			return doc.ToPremise(id), nil
		},
		ID:   func(p models.Premise) string { return p.ID },
		Ward: func(p models.Premise) string { return p.WardCode },
	}
}
