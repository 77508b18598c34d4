package store

import (
	"encoding/json"

	"github.com/srg/stingray/internal/dataset"
	"github.com/srg/stingray/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type exportPoint struct {
	Time  float64 `json:"time"`
	AccX  float32 `json:"accX"`
	AccY  float32 `json:"accY"`
	AccZ  float32 `json:"accZ"`
	GyroX float32 `json:"gyroX"`
	GyroY float32 `json:"gyroY"`
	GyroZ float32 `json:"gyroZ"`
}

type exportSession struct {
	ID          string        `json:"id"`
	Fatigue     string        `json:"fatigue"`
	FrequencyHz float64       `json:"frequencyHz"`
	DataPoints  []exportPoint `json:"dataPoints"`
}

// Export renders doc as the training export: a header followed by one entry
// per location in slot order. Sample times are seconds.
func Export(doc dataset.Document) ([]byte, error) {
	header := orderedmap.New[string, any]()
	header.Set("uuid", doc.ID.String())
	header.Set("sport", doc.Activity)
	header.Set("sets", doc.Sets)
	header.Set("duration", int(doc.SetDuration))
	header.Set("distance", int(doc.Distance))

	var locations []*orderedmap.OrderedMap[string, any]
	for _, loc := range exportOrder(doc) {
		sessions := make([]exportSession, 0, len(doc.Sessions[loc]))
		for _, ts := range doc.Sessions[loc] {
			points := make([]exportPoint, 0, len(ts.Samples))
			for _, s := range ts.Samples {
				points = append(points, exportPoint{
					Time: float64(s.TimestampMs) / 1000,
					AccX: s.Accel[0], AccY: s.Accel[1], AccZ: s.Accel[2],
					GyroX: s.Gyro[0], GyroY: s.Gyro[1], GyroZ: s.Gyro[2],
				})
			}
			sessions = append(sessions, exportSession{
				ID:          ts.ID.String(),
				Fatigue:     string(ts.Fatigue),
				FrequencyHz: ts.FrequencyHz,
				DataPoints:  points,
			})
		}
		entry := orderedmap.New[string, any]()
		entry.Set("name", loc.Title())
		entry.Set("sessions", sessions)
		locations = append(locations, entry)
	}
	if locations == nil {
		locations = []*orderedmap.OrderedMap[string, any]{}
	}

	out := orderedmap.New[string, any]()
	out.Set("header", header)
	out.Set("locations", locations)
	return json.MarshalIndent(out, "", "  ")
}

func exportOrder(doc dataset.Document) []device.Location {
	var locs []device.Location
	for _, loc := range device.Locations() {
		if len(doc.Sessions[loc]) > 0 {
			locs = append(locs, loc)
		}
	}
	return locs
}
