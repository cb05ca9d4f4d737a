package cam

import (
	"encoding/json"
	"fmt"

	"kerf/geometry"
)

// UnitsMM is the only supported document unit
const UnitsMM = "mm"

// Document is the design handed to the planner
type Document struct {
	Version int      `json:"version"`
	Units   string   `json:"units"`
	Layers  []Layer  `json:"layers"`
	Objects []Object `json:"-"`
}

// Layer groups objects and binds them to an operation
type Layer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Visible     bool   `json:"visible"`
	Locked      bool   `json:"locked"`
	OperationID string `json:"operationId,omitempty"`
}

// Object is one of *PathObject, *ShapeObject or *ImageObject.
// The set is closed: callers switch over all three.
type Object interface {
	ObjectID() string
	ObjectLayer() string
	isObject()
}

// Base holds the fields shared by every object variant
type Base struct {
	ID        string             `json:"id"`
	LayerID   string             `json:"layerId"`
	Transform geometry.Transform `json:"transform"`
}

func (b Base) ObjectID() string    { return b.ID }
func (b Base) ObjectLayer() string { return b.LayerID }

// PathObject is a polyline in object space
type PathObject struct {
	Base
	Closed bool             `json:"closed"`
	Points []geometry.Point `json:"points"`
}

// ShapeKindRect is the only shape kind currently defined
const ShapeKindRect = "rect"

// ShapeObject is a parametric shape anchored at the object-space origin
type ShapeObject struct {
	Base
	Shape  string  `json:"shape"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ImageObject is a bitmap placed on the rectangle (0,0)-(Width,Height)
type ImageObject struct {
	Base
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	SourceRef string  `json:"sourceRef"`
}

func (*PathObject) isObject()  {}
func (*ShapeObject) isObject() {}
func (*ImageObject) isObject() {}

// Operation modes
const (
	ModeLine = "line"
	ModeFill = "fill"
)

// Ordering strategies
const (
	OrderInsideOut      = "insideOut"
	OrderShortestTravel = "shortestTravel"
)

// Operation holds the cutting parameters applied to a layer
type Operation struct {
	ID           string  `json:"id"`
	Name         string  `json:"name,omitempty"`
	Mode         string  `json:"mode"`
	Speed        float64 `json:"speed"`  // mm/min
	Power        float64 `json:"power"`  // percent
	Passes       float64 `json:"passes"` // truncated toward zero
	Order        string  `json:"order,omitempty"`
	LineInterval float64 `json:"lineInterval,omitempty"`
	FillAngle    float64 `json:"fillAngle,omitempty"`
}

// PassCount returns the whole number of passes to run
func (op Operation) PassCount() int {
	if op.Passes <= 0 {
		return 0
	}
	return int(op.Passes)
}

// CamSettings is the set of operations available to a document
type CamSettings struct {
	Operations    []Operation `json:"operations"`
	Tolerance     *float64    `json:"tolerance,omitempty"`
	OptimizePaths *bool       `json:"optimizePaths,omitempty"`
}

// Operation looks up an operation by id
func (s CamSettings) Operation(id string) (Operation, bool) {
	for _, op := range s.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// PlannedOp is the ordered set of paths cut with one operation
type PlannedOp struct {
	OperationID string          `json:"operationId"`
	Paths       []geometry.Path `json:"paths"`
}

// CamPlan is the planner output
type CamPlan struct {
	Ops []PlannedOp `json:"ops"`
}

// Preview is the display geometry that accompanies a plan
type Preview struct {
	Bounds geometry.Bounds `json:"bounds"`
	Paths  []geometry.Path `json:"paths"`
}

// Result bundles a plan with its non-fatal warnings and preview
type Result struct {
	Plan     CamPlan  `json:"plan"`
	Warnings []string `json:"warnings"`
	Preview  Preview  `json:"preview"`
}

type objectKind struct {
	Type string `json:"type"`
}

type documentJSON struct {
	Version int               `json:"version"`
	Units   string            `json:"units"`
	Layers  []Layer           `json:"layers"`
	Objects []json.RawMessage `json:"objects"`
}

// MarshalJSON writes objects with a "type" discriminator
func (d Document) MarshalJSON() ([]byte, error) {
	out := documentJSON{Version: d.Version, Units: d.Units, Layers: d.Layers}
	out.Objects = make([]json.RawMessage, 0, len(d.Objects))
	for _, obj := range d.Objects {
		var (
			data []byte
			err  error
		)
		switch o := obj.(type) {
		case *PathObject:
			data, err = json.Marshal(struct {
				Type string `json:"type"`
				*PathObject
			}{"path", o})
		case *ShapeObject:
			data, err = json.Marshal(struct {
				Type string `json:"type"`
				*ShapeObject
			}{"shape", o})
		case *ImageObject:
			data, err = json.Marshal(struct {
				Type string `json:"type"`
				*ImageObject
			}{"image", o})
		default:
			return nil, fmt.Errorf("unknown object variant %T", obj)
		}
		if err != nil {
			return nil, err
		}
		out.Objects = append(out.Objects, data)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes objects by their "type" discriminator
func (d *Document) UnmarshalJSON(data []byte) error {
	var in documentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	d.Version = in.Version
	d.Units = in.Units
	d.Layers = in.Layers
	d.Objects = make([]Object, 0, len(in.Objects))

	for i, raw := range in.Objects {
		var kind objectKind
		if err := json.Unmarshal(raw, &kind); err != nil {
			return fmt.Errorf("object %d: %w", i, err)
		}
		var obj Object
		switch kind.Type {
		case "path":
			obj = &PathObject{Base: Base{Transform: geometry.Identity}}
		case "shape":
			obj = &ShapeObject{Base: Base{Transform: geometry.Identity}}
		case "image":
			obj = &ImageObject{Base: Base{Transform: geometry.Identity}}
		default:
			return fmt.Errorf("object %d: unknown type %q", i, kind.Type)
		}
		if err := json.Unmarshal(raw, obj); err != nil {
			return fmt.Errorf("object %d: %w", i, err)
		}
		d.Objects = append(d.Objects, obj)
	}
	return nil
}
