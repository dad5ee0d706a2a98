package reconcile

import (
	"context"

	"github.com/c0deZ3R0/carsync/model"
)

// localManufacturers answers an offline list from the last online snapshot plus
// manufacturers created offline, minus those deleted offline.
func (e *Engine) localManufacturers(ctx context.Context) []model.Manufacturer {
	var snapshot, created []model.Manufacturer
	var deleted []model.EntityRef

	if err := e.mirror.ReadInto(ctx, model.SnapshotEndpoint, &snapshot); err != nil {
		e.logger.LogError(ctx, err, "Could not read manufacturer snapshot")
	}
	if err := e.mirror.ReadInto(ctx, model.CreateManufacturer.Endpoint(), &created); err != nil {
		e.logger.LogError(ctx, err, "Could not read offline manufacturers")
	}
	if err := e.mirror.ReadInto(ctx, model.DeleteManufacturerByID.Endpoint(), &deleted); err != nil {
		e.logger.LogError(ctx, err, "Could not read offline deletes")
	}

	gone := make(map[string]bool, len(deleted))
	for _, d := range deleted {
		gone[d.ID] = true
	}

	out := make([]model.Manufacturer, 0, len(snapshot)+len(created))
	seen := make(map[string]bool, cap(out))
	for _, m := range append(snapshot, created...) {
		if gone[m.ID] || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

// localModels answers an offline model query from models added offline.
func (e *Engine) localModels(ctx context.Context, manufacturerID string) []model.CarModel {
	var added []model.CarModel
	if err := e.mirror.ReadInto(ctx, model.AddModelByManufacturerID.Endpoint(), &added); err != nil {
		e.logger.LogError(ctx, err, "Could not read offline models")
	}

	out := []model.CarModel{}
	for _, m := range added {
		if m.ManufacturerID == manufacturerID {
			out = append(out, m)
		}
	}
	return out
}
