package bucket

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/storage/types"
)

// Layout maps hour ids to file paths:
//
//	<root>/<rate>_sps/<year>/<Month>/<dd>/<HH>_<hour_id>.dat
//
// The calendar fields are taken from the hour's start in Location.
type Layout struct {
	Root     string
	Timebase types.Timebase
	Location *time.Location
}

// Path returns the file path of hourID.
func (l Layout) Path(hourID int32) string {
	loc := l.Location
	if loc == nil {
		loc = time.Local
	}
	t := l.Timebase.HourStart(hourID).In(loc)

	return filepath.Join(
		l.Root,
		fmt.Sprintf("%d_sps", int(l.Timebase.Rate())),
		fmt.Sprintf("%d", t.Year()),
		t.Month().String(),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02d_%d%s", t.Hour(), hourID, config.BucketFileExt),
	)
}
