// Package configmodel holds the external, read-only parking-lot
// configuration: NVR identity, channels, and stalls. The core never writes
// this data; it only reads it to drive slicing, matching, and decision
// logic.
package configmodel

import "strconv"

// Rect is an axis-aligned (x, y, w, h) region — top-left plus size, never
// (x1, y1, x2, y2). Every consumer must use Width()/Height(), not treat the
// last two fields as a second point (the legacy bbox_x2/y2-as-width/height
// mix-up this shape replaces).
type Rect struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	W float64 `yaml:"w"`
	H float64 `yaml:"h"`
}

// AABB returns the axis-aligned bounding box (x1, y1, x2, y2) form used by
// IoU math in internal/stallmatch.
func (r Rect) AABB() (x1, y1, x2, y2 float64) {
	return r.X, r.Y, r.X + r.W, r.Y + r.H
}

func (r Rect) Width() float64  { return r.W }
func (r Rect) Height() float64 { return r.H }

// Stall is one parking space on a channel's field of view.
type Stall struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Region Rect   `yaml:"region"`
}

// TrackRegion is an optional polygon restricting where vehicles are tracked
// within a channel. Any polygon is reduced to its AABB; true polygon
// containment is a future extension not covered here.
type TrackRegion struct {
	Points []Point `yaml:"points"`
}

type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// AABB computes the axis-aligned bounding box of an arbitrary polygon. A nil
// or empty TrackRegion means "no restriction" and callers should treat the
// whole frame as in-region.
func (t TrackRegion) AABB() (x1, y1, x2, y2 float64, ok bool) {
	if len(t.Points) == 0 {
		return 0, 0, 0, 0, false
	}
	x1, y1 = t.Points[0].X, t.Points[0].Y
	x2, y2 = x1, y1
	for _, p := range t.Points[1:] {
		if p.X < x1 {
			x1 = p.X
		}
		if p.X > x2 {
			x2 = p.X
		}
		if p.Y < y1 {
			y1 = p.Y
		}
		if p.Y > y2 {
			y2 = p.Y
		}
	}
	return x1, y1, x2, y2, true
}

// Channel is one camera feed on an NVR: a code, a human name, a camera
// serial, an optional track region, and its stalls.
type Channel struct {
	Code         string       `yaml:"code"`
	Name         string       `yaml:"name"`
	CameraSerial string       `yaml:"camera_serial"`
	TrackRegion  *TrackRegion `yaml:"track_region"`
	Stalls       []Stall      `yaml:"stalls"`
}

// NVR is the external device identity: host, credentials, port, and the
// channels it exposes.
type NVR struct {
	Host           string    `yaml:"host"`
	Port           int       `yaml:"port"`
	Username       string    `yaml:"username"`
	Password       string    `yaml:"password"`
	ParkingLotName string    `yaml:"parking_lot_name"`
	Channels       []Channel `yaml:"channels"`
}

// BaseURL builds the "rtsp://user:pass@ip:port" prefix used by
// internal/slicing.BuildReplayURL. Username/password are NOT URL-encoded —
// the password may contain '=' or other non-reserved characters and must be
// transmitted verbatim.
func (n NVR) BaseURL() string {
	port := n.Port
	if port == 0 {
		port = 554
	}
	return "rtsp://" + n.Username + ":" + n.Password + "@" + n.Host + ":" + strconv.Itoa(port)
}

// Index is an in-memory (ip, channel code) -> Channel lookup built once
// from the loaded topology, satisfying changeworker.ChannelLookup.
type Index struct {
	byKey map[string]Channel
}

// BuildIndex flattens a topology's NVRs/channels for O(1) lookup.
func BuildIndex(nvrs []NVR) *Index {
	idx := &Index{byKey: make(map[string]Channel)}
	for _, n := range nvrs {
		for _, c := range n.Channels {
			idx.byKey[n.Host+"::"+c.Code] = c
		}
	}
	return idx
}

func (idx *Index) Lookup(ip, channelCode string) (Channel, bool) {
	c, ok := idx.byKey[ip+"::"+channelCode]
	return c, ok
}
