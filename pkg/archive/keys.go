package archive

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"time"
	_ "time/tzdata"
)

const (
	BusPrefix     = "realtime/raw/bus"
	RailPrefix    = "realtime/raw/rail"
	StaticPrefix  = "static"
	ETagRecordKey = "static/latest.txt"

	datePath = "2006/01/02"
	// Colons are not safe in every storage backend, so bus keys use underscores.
	busLeaf     = "2006-01-02T15_04_05"
	railLayout  = "2006-01-02T15:04:05"
	staticLeafN = "gtfs_%d.zip"
)

// CentralTime is the zone the CTA publishes timestamps in.
var CentralTime = mustLoadLocation("America/Chicago")

var staticLeafPattern = regexp.MustCompile(`^gtfs_(\d+)\.zip$`)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// BusKey is the object key for a bus snapshot taken at trigger.
func BusKey(trigger time.Time) string {
	t := trigger.In(CentralTime)
	return path.Join(BusPrefix, t.Format(datePath), t.Format(busLeaf)+".json")
}

// RailKey is the object key for a rail snapshot stamped tmst.
// at is tmst parsed in CentralTime.
func RailKey(tmst string, at time.Time) string {
	return path.Join(RailPrefix, at.Format(datePath), tmst+".json")
}

// StaticDir is the listing prefix for static archives on date.
func StaticDir(date time.Time) string {
	return path.Join(StaticPrefix, date.Format(datePath)) + "/"
}

// StaticKey is the object key for the index-th static archive on date.
func StaticKey(date time.Time, index int) string {
	return StaticDir(date) + fmt.Sprintf(staticLeafN, index)
}

// NextStaticIndex returns one more than the largest gtfs_<N>.zip index among
// keys under dir, or 0 when there is none. Other keys are ignored.
func NextStaticIndex(dir string, keys []string) int {
	next := 0
	for _, k := range keys {
		if path.Dir(k)+"/" != dir {
			continue
		}
		m := staticLeafPattern.FindStringSubmatch(path.Base(k))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n+1 > next {
			next = n + 1
		}
	}
	return next
}
