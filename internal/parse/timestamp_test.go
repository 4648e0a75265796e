package parse_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/towertools/killfeed/internal/parse"
)

func TestParseTimestamp(t *testing.T) {
	Convey("Given timestamps in the formats found across log archives", t, func() {
		want := time.Date(2025, 5, 9, 11, 58, 37, 0, time.UTC)

		cases := map[string]string{
			"primary dotted": "2025.05.09-11.58.37",
			"dotted colon":   "2025.05.09-11:58:37",
			"iso space":      "2025-05-09 11:58:37",
			"iso T":          "2025-05-09T11:58:37",
			"rfc3339":        "2025-05-09T11:58:37Z",
			"slash":          "2025/05/09 11:58:37",
			"compact dash":   "20250509-115837",
			"compact":        "20250509115837",
		}

		for name, input := range cases {
			Convey("When parsing the "+name+" form", func() {
				ts, ok := parse.ParseTimestamp(input)

				Convey("Then it yields the same UTC instant", func() {
					So(ok, ShouldBeTrue)
					So(ts.Equal(want), ShouldBeTrue)
				})
			})
		}

		Convey("When parsing a day-first form", func() {
			ts, ok := parse.ParseTimestamp("09.05.2025-11.58.37")

			So(ok, ShouldBeTrue)
			So(ts.Equal(want), ShouldBeTrue)
		})

		Convey("When parsing a ten-digit Unix timestamp", func() {
			ts, ok := parse.ParseTimestamp("1746791917")

			So(ok, ShouldBeTrue)
			So(ts.Equal(time.Unix(1746791917, 0)), ShouldBeTrue)
		})

		Convey("When parsing garbage", func() {
			_, ok := parse.ParseTimestamp("not a timestamp")
			So(ok, ShouldBeFalse)
		})

		Convey("When parsing an empty string", func() {
			_, ok := parse.ParseTimestamp("")
			So(ok, ShouldBeFalse)
		})

		Convey("When formatting and re-parsing", func() {
			out := parse.FormatTimestamp(want)
			So(out, ShouldEqual, "2025.05.09-11.58.37")

			back, ok := parse.ParseTimestamp(out)
			So(ok, ShouldBeTrue)
			So(back.Equal(want), ShouldBeTrue)
		})
	})
}
