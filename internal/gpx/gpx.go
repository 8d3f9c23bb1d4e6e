// Package gpx читает и пишет треки в формате GPX 1.1
package gpx

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/flybeeper/runtracker/internal/models"
)

const namespace = "http://www.topografix.com/GPX/1/1"

// Point точка трека
type Point struct {
	Lat       float64    `xml:"lat,attr"`
	Lon       float64    `xml:"lon,attr"`
	Elevation *float64   `xml:"ele,omitempty"`
	Time      *time.Time `xml:"time,omitempty"`
}

// TrackSegment сегмент трека
type TrackSegment struct {
	Points []Point `xml:"trkpt"`
}

// Track трек с сегментами
type Track struct {
	Name     string         `xml:"name,omitempty"`
	Segments []TrackSegment `xml:"trkseg"`
}

// GPX корневой элемент файла
type GPX struct {
	XMLName xml.Name `xml:"gpx"`
	XMLNS   string   `xml:"xmlns,attr,omitempty"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	Tracks  []Track  `xml:"trk"`
}

// Parse читает GPX файл
func Parse(filename string) (*GPX, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ParseReader(file)
}

// ParseReader читает GPX из io.Reader
func ParseReader(r io.Reader) (*GPX, error) {
	var data GPX
	if err := xml.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}
	return &data, nil
}

// Samples возвращает точки всех сегментов как отсчеты, по времени.
// Точки без времени пропускаются: движку нужен timestamp.
func (g *GPX) Samples() []models.GeoSample {
	var out []models.GeoSample
	for _, track := range g.Tracks {
		for _, seg := range track.Segments {
			for _, p := range seg.Points {
				if p.Time == nil || p.Time.IsZero() {
					continue
				}
				s := models.NewGeoSample(p.Lat, p.Lon, p.Time.UTC())
				if p.Elevation != nil {
					s = s.WithAltitude(*p.Elevation)
				}
				out = append(out, s)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// FromSamples строит GPX с одним треком из отсчетов
func FromSamples(name string, samples []models.GeoSample) *GPX {
	seg := TrackSegment{Points: make([]Point, 0, len(samples))}
	for _, s := range samples {
		ts := s.Timestamp.UTC()
		seg.Points = append(seg.Points, Point{
			Lat:       s.Latitude,
			Lon:       s.Longitude,
			Elevation: s.Altitude,
			Time:      &ts,
		})
	}

	return &GPX{
		XMLNS:   namespace,
		Version: "1.1",
		Creator: "runtracker",
		Tracks:  []Track{{Name: name, Segments: []TrackSegment{seg}}},
	}
}

// WriteTo пишет GPX с XML заголовком
func (g *GPX) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	if _, err := io.WriteString(cw, xml.Header); err != nil {
		return cw.n, err
	}

	enc := xml.NewEncoder(cw)
	enc.Indent("", "  ")
	if err := enc.Encode(g); err != nil {
		return cw.n, fmt.Errorf("failed to encode GPX: %w", err)
	}
	if _, err := io.WriteString(cw, "\n"); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
