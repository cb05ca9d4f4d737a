// Package cam turns a design document and its cutting operations into an
// ordered toolpath plan.
package cam

import (
	"fmt"

	"kerf/geometry"
)

// PlanCam builds the toolpath plan for doc. Configuration problems never fail
// planning; they are reported as warnings and the affected objects are left
// out. images resolves image objects and may be nil when the document has
// none.
func PlanCam(doc Document, settings CamSettings, images ImageSource) Result {
	var warnings []string
	if len(settings.Operations) == 0 {
		warnings = append(warnings, "No operations configured.")
	}
	if doc.Units != "" && doc.Units != UnitsMM {
		warnings = append(warnings, fmt.Sprintf("Document units %q are not supported; coordinates are read as millimeters.", doc.Units))
	}

	layers := make(map[string]Layer, len(doc.Layers))
	layerOps := make(map[string]Operation, len(doc.Layers))
	var opOrder []string
	seenOp := make(map[string]bool)

	for _, layer := range doc.Layers {
		layers[layer.ID] = layer
		op, ok := Operation{}, false
		if layer.OperationID != "" {
			op, ok = settings.Operation(layer.OperationID)
		}
		if !ok {
			if layer.Visible {
				warnings = append(warnings, fmt.Sprintf("Layer %q has no operation assigned.", layer.Name))
			}
			continue
		}
		layerOps[layer.ID] = op
		if !seenOp[op.ID] {
			seenOp[op.ID] = true
			opOrder = append(opOrder, op.ID)
		}
	}

	tolerance := 0.0
	if settings.Tolerance != nil {
		tolerance = *settings.Tolerance
	}

	buckets := make(map[string][]geometry.Path)
	for _, obj := range doc.Objects {
		layer, ok := layers[obj.ObjectLayer()]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("Object %q references unknown layer %q.", obj.ObjectID(), obj.ObjectLayer()))
			continue
		}
		op, ok := layerOps[layer.ID]
		if !ok {
			continue
		}

		switch o := obj.(type) {
		case *PathObject:
			if op.Mode != ModeLine {
				continue
			}
			path := geometry.TransformPath(geometry.Path{Points: o.Points, Closed: o.Closed}, o.Transform)
			buckets[op.ID] = append(buckets[op.ID], simplify(path, tolerance))
		case *ShapeObject:
			if op.Mode != ModeLine {
				continue
			}
			outline, ok := shapeOutline(o)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("Shape %q has unsupported kind %q.", o.ID, o.Shape))
				continue
			}
			buckets[op.ID] = append(buckets[op.ID], geometry.TransformPath(outline, o.Transform))
		case *ImageObject:
			if op.Mode != ModeFill {
				continue
			}
			paths, err := rasterizeImage(o, op, images)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("Image %q could not be loaded: %v", o.ID, err))
				continue
			}
			buckets[op.ID] = append(buckets[op.ID], paths...)
		}
	}

	optimize := settings.OptimizePaths == nil || *settings.OptimizePaths

	var plan CamPlan
	var preview []geometry.Path
	var all []geometry.Path
	cursor := geometry.Point{}
	for _, id := range opOrder {
		paths := buckets[id]
		if len(paths) == 0 {
			continue
		}
		op, _ := settings.Operation(id)
		if optimize {
			switch op.Order {
			case OrderShortestTravel:
				paths, _ = OrderShortest(paths, cursor)
			case OrderInsideOut:
				paths = SortInsideOut(paths)
			}
		}
		cursor = paths[len(paths)-1].End()

		plan.Ops = append(plan.Ops, PlannedOp{OperationID: id, Paths: paths})
		all = append(all, paths...)
		if op.Mode == ModeLine {
			preview = append(preview, paths...)
		}
	}

	if warnings == nil {
		warnings = []string{}
	}
	return Result{
		Plan:     plan,
		Warnings: warnings,
		Preview:  Preview{Bounds: geometry.ComputeBounds(all), Paths: preview},
	}
}

func shapeOutline(s *ShapeObject) (geometry.Path, bool) {
	switch s.Shape {
	case ShapeKindRect, "":
		return geometry.Path{
			Points: []geometry.Point{
				{X: 0, Y: 0},
				{X: s.Width, Y: 0},
				{X: s.Width, Y: s.Height},
				{X: 0, Y: s.Height},
			},
			Closed: true,
		}, true
	}
	return geometry.Path{}, false
}

func rasterizeImage(img *ImageObject, op Operation, images ImageSource) ([]geometry.Path, error) {
	if images == nil {
		return nil, ErrImageNotFound
	}
	bitmap, err := images.Bitmap(img.SourceRef)
	if err != nil {
		return nil, err
	}
	corners := geometry.TransformPath(geometry.Path{Points: []geometry.Point{
		{X: 0, Y: 0},
		{X: img.Width, Y: 0},
		{X: img.Width, Y: img.Height},
		{X: 0, Y: img.Height},
	}}, img.Transform)
	b := geometry.ComputeBounds([]geometry.Path{corners})
	box := RasterBox{X: b.MinX, Y: b.MinY, W: b.Width(), H: b.Height()}
	return RasterToPaths(bitmap, box, op.LineInterval, op.FillAngle), nil
}

// simplify drops interior points closer than tolerance to the previously
// kept point.
func simplify(path geometry.Path, tolerance float64) geometry.Path {
	if tolerance <= 0 || len(path.Points) < 3 {
		return path
	}
	last := len(path.Points) - 1
	kept := []geometry.Point{path.Points[0]}
	for i := 1; i < last; i++ {
		if geometry.Distance(kept[len(kept)-1], path.Points[i]) >= tolerance {
			kept = append(kept, path.Points[i])
		}
	}
	kept = append(kept, path.Points[last])
	return geometry.Path{Points: kept, Closed: path.Closed}
}
