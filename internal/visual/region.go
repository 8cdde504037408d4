package visual

import (
	"encoding/json"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Coord is one region coordinate: an absolute pixel value or a
// percentage of the image dimension. It unmarshals from a JSON number
// or a "25%" string.
type Coord struct {
	Value   float64
	Percent bool
}

// Px builds an absolute pixel coordinate.
func Px(v int) Coord { return Coord{Value: float64(v)} }

// Pct builds a percentage coordinate.
func Pct(v float64) Coord { return Coord{Value: v, Percent: true} }

// UnmarshalJSON accepts 120, "120", or "25%".
func (c *Coord) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*c = Coord{Value: num}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("coordinate must be a number or percentage string: %s", data)
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return fmt.Errorf("invalid percentage %q", s)
		}
		*c = Coord{Value: v, Percent: true}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid coordinate %q", s)
	}
	*c = Coord{Value: v}
	return nil
}

// MarshalJSON renders percentages back to their string form.
func (c Coord) MarshalJSON() ([]byte, error) {
	if c.Percent {
		return json.Marshal(fmt.Sprintf("%g%%", c.Value))
	}
	return json.Marshal(c.Value)
}

// toPixels resolves the coordinate against a dimension.
func (c Coord) toPixels(dimension int) int {
	if c.Percent {
		return int(c.Value / 100 * float64(dimension))
	}
	return int(c.Value)
}

// Region is a rectangle excluded from comparison.
type Region struct {
	X      Coord `json:"x"`
	Y      Coord `json:"y"`
	Width  Coord `json:"width"`
	Height Coord `json:"height"`
}

// resolve converts the region to absolute pixels for a w x h image.
// Width and height percentages are relative to the matching dimension.
func (r Region) resolve(w, h int) image.Rectangle {
	x := r.X.toPixels(w)
	y := r.Y.toPixels(h)
	return image.Rect(x, y, x+r.Width.toPixels(w), y+r.Height.toPixels(h))
}
